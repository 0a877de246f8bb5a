package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/laptophub/internal/order"
)

type CreateOrderRequest struct {
	UserID          uuid.UUID `json:"user_id"`
	ShippingAddress string    `json:"shipping_address"`
}

type UpdateOrderStatusRequest struct {
	Status order.Status `json:"status"`
}

// OrderHandler exposes the administrative order surface.
type OrderHandler struct {
	svc order.Service
}

func NewOrderHandler(svc order.Service) *OrderHandler {
	return &OrderHandler{svc: svc}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handleCreateOrder)
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/{id}", h.handleGetOrder)
	router.Post("/orders/{id}/cancel", h.handleCancelOrder)
	router.Post("/orders/{id}/ship", h.handleShipOrder)
	router.Post("/orders/{id}/deliver", h.handleDeliverOrder)
	router.Patch("/orders/{id}/status", h.handleUpdateStatus)
	router.Post("/admin/sweeps/expire", h.handleForceExpire)
}

func orderIDFromURL(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.FromString(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid order id %q", raw)
	}
	return id, nil
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if req.UserID == uuid.Nil {
		respondWithError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.ShippingAddress == "" {
		respondWithError(w, http.StatusBadRequest, "shipping_address is required")
		return
	}

	o, err := h.svc.CreateFromCart(r.Context(), req.UserID, req.ShippingAddress)
	if err != nil {
		log.Warn().Err(err).Stringer("user_id", req.UserID).Msg("Failed to create order")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusCreated, o)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDFromURL(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

// handleListOrders lists orders filtered by user_id or status. Exactly
// one filter is required; unfiltered listing is not exposed.
func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	rawUserID := r.URL.Query().Get("user_id")
	rawStatus := r.URL.Query().Get("status")

	switch {
	case rawUserID != "":
		userID, err := uuid.FromString(rawUserID)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		orders, err := h.svc.ListByUser(r.Context(), userID)
		if err != nil {
			respondWithError(w, mapErrorToStatusCode(err), err.Error())
			return
		}
		respondWithJSON(w, http.StatusOK, orders)

	case rawStatus != "":
		orders, err := h.svc.ListByStatus(r.Context(), order.Status(rawStatus))
		if err != nil {
			respondWithError(w, mapErrorToStatusCode(err), err.Error())
			return
		}
		respondWithJSON(w, http.StatusOK, orders)

	default:
		respondWithError(w, http.StatusBadRequest, "user_id or status query parameter is required")
	}
}

func (h *OrderHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDFromURL(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.svc.Cancel(r.Context(), id)
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", id).Msg("Failed to cancel order")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleShipOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDFromURL(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.svc.Ship(r.Context(), id)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleDeliverOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDFromURL(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.svc.Deliver(r.Context(), id)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDFromURL(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req UpdateOrderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	o, err := h.svc.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", id).Msg("Failed to update order status")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

// handleForceExpire triggers one expiration sweep cycle on demand; it is
// the same code path the periodic sweep runs.
func (h *OrderHandler) handleForceExpire(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.ExpirePending(r.Context())
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{"expired": count})
}
