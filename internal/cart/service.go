package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/laptophub/internal/catalog"
	"github.com/vasiliy-maslov/laptophub/internal/db"
)

type Service interface {
	GetCart(ctx context.Context, userID uuid.UUID) (*Cart, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, qty int) (*Cart, error)
	UpdateItem(ctx context.Context, userID, productID uuid.UUID, qty int) (*Cart, error)
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*Cart, error)
}

type service struct {
	q        db.Querier
	carts    Repository
	products catalog.Repository
}

func NewService(q db.Querier, carts Repository, products catalog.Repository) Service {
	return &service{q: q, carts: carts, products: products}
}

func (s *service) GetCart(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	c, err := s.carts.GetOrCreate(ctx, s.q, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch cart: %w", err)
	}
	return c, nil
}

func (s *service) AddItem(ctx context.Context, userID, productID uuid.UUID, qty int) (*Cart, error) {
	if qty < 1 {
		return nil, fmt.Errorf("service: quantity must be at least 1, got %d", qty)
	}

	// Stock is not checked here: it is only authoritative at checkout,
	// where the product row lock is held.
	if _, err := s.products.GetByID(ctx, s.q, productID); err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return nil, catalog.ErrProductNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch product: %w", err)
	}

	c, err := s.carts.GetOrCreate(ctx, s.q, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch cart: %w", err)
	}

	if err := s.carts.UpsertItem(ctx, s.q, c.ID, productID, qty); err != nil {
		return nil, fmt.Errorf("service: failed to add cart item: %w", err)
	}

	log.Info().Stringer("user_id", userID).Stringer("product_id", productID).Int("quantity", qty).Msg("service: cart item added")
	return s.GetCart(ctx, userID)
}

// UpdateItem sets the quantity of an existing cart line. A quantity of
// zero or less removes the line.
func (s *service) UpdateItem(ctx context.Context, userID, productID uuid.UUID, qty int) (*Cart, error) {
	if qty <= 0 {
		return s.RemoveItem(ctx, userID, productID)
	}

	c, err := s.carts.GetOrCreate(ctx, s.q, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch cart: %w", err)
	}

	if err := s.carts.SetItemQuantity(ctx, s.q, c.ID, productID, qty); err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("service: failed to update cart item: %w", err)
	}
	return s.GetCart(ctx, userID)
}

func (s *service) RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*Cart, error) {
	c, err := s.carts.GetOrCreate(ctx, s.q, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch cart: %w", err)
	}

	if err := s.carts.RemoveItem(ctx, s.q, c.ID, productID); err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("service: failed to remove cart item: %w", err)
	}
	return s.GetCart(ctx, userID)
}
