package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/laptophub/internal/cart"
)

type AddCartItemRequest struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type CartHandler struct {
	svc cart.Service
}

func NewCartHandler(svc cart.Service) *CartHandler {
	return &CartHandler{svc: svc}
}

func (h *CartHandler) RegisterRoutes(router chi.Router) {
	router.Get("/users/{userID}/cart", h.handleGetCart)
	router.Post("/users/{userID}/cart/items", h.handleAddItem)
	router.Patch("/users/{userID}/cart/items/{productID}", h.handleUpdateItem)
	router.Delete("/users/{userID}/cart/items/{productID}", h.handleRemoveItem)
}

func uuidFromURL(r *http.Request, param string) (uuid.UUID, error) {
	raw := chi.URLParam(r, param)
	id, err := uuid.FromString(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q", param, raw)
	}
	return id, nil
}

func (h *CartHandler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	userID, err := uuidFromURL(r, "userID")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.svc.GetCart(r.Context(), userID)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

func (h *CartHandler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	userID, err := uuidFromURL(r, "userID")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req AddCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if req.ProductID == uuid.Nil {
		respondWithError(w, http.StatusBadRequest, "product_id is required")
		return
	}
	if req.Quantity < 1 {
		respondWithError(w, http.StatusBadRequest, "quantity must be at least 1")
		return
	}

	c, err := h.svc.AddItem(r.Context(), userID, req.ProductID, req.Quantity)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

func (h *CartHandler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	userID, err := uuidFromURL(r, "userID")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	productID, err := uuidFromURL(r, "productID")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req UpdateCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	c, err := h.svc.UpdateItem(r.Context(), userID, productID, req.Quantity)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

func (h *CartHandler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, err := uuidFromURL(r, "userID")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	productID, err := uuidFromURL(r, "productID")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.svc.RemoveItem(r.Context(), userID, productID)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}
