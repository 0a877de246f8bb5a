package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/laptophub/internal/cache"
	"github.com/vasiliy-maslov/laptophub/internal/db"
)

// Service serves catalog browsing. Reads go through a short-TTL cache;
// stale stock counts are acceptable here because every checkout re-reads
// stock under the row lock.
type Service interface {
	GetProduct(ctx context.Context, productID uuid.UUID) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

type service struct {
	q        db.Querier
	repo     Repository
	cache    cache.Cache
	cacheTTL time.Duration
}

func NewService(q db.Querier, repo Repository, c cache.Cache, cacheTTL time.Duration) Service {
	return &service{q: q, repo: repo, cache: c, cacheTTL: cacheTTL}
}

func (s *service) GetProduct(ctx context.Context, productID uuid.UUID) (*Product, error) {
	key := s.cache.GenerateKey("product", productID.String())

	if cached, err := s.cache.Get(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("service: product cache read failed")
	} else if cached != "" {
		var p Product
		if err := json.Unmarshal([]byte(cached), &p); err == nil {
			return &p, nil
		}
		log.Warn().Str("key", key).Msg("service: dropping undecodable cache entry")
	}

	p, err := s.repo.GetByID(ctx, s.q, productID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch product: %w", err)
	}

	if raw, err := json.Marshal(p); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("service: product cache write failed")
		}
	}

	return p, nil
}

func (s *service) ListProducts(ctx context.Context) ([]Product, error) {
	products, err := s.repo.List(ctx, s.q)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list products: %w", err)
	}
	return products, nil
}
