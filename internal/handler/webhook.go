package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/laptophub/internal/payment"
)

const signatureTolerance = 5 * time.Minute

// WebhookHandler receives Stripe payment-intent notifications and feeds
// them into the payment coordinator. Unknown intents and unhandled event
// types are acknowledged with 200 so the gateway stops retrying them.
type WebhookHandler struct {
	payments payment.Service
	secret   string
	now      func() time.Time
}

func NewWebhookHandler(payments payment.Service, secret string) *WebhookHandler {
	return &WebhookHandler{payments: payments, secret: secret, now: time.Now}
}

func (h *WebhookHandler) RegisterRoutes(router chi.Router) {
	router.Post("/webhooks/stripe", h.handleStripeWebhook)
}

type stripeEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

func (h *WebhookHandler) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if h.secret != "" {
		if !h.verifySignature(body, r.Header.Get("Stripe-Signature")) {
			log.Warn().Msg("Webhook signature verification failed")
			respondWithError(w, http.StatusBadRequest, "webhook signature verification failed")
			return
		}
	}

	var event stripeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	var outcome payment.IntentStatus
	switch event.Type {
	case "payment_intent.succeeded":
		outcome = payment.IntentSucceeded
	case "payment_intent.payment_failed":
		outcome = payment.IntentFailed
	default:
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if event.Data.Object.ID == "" {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "no intent id"})
		return
	}

	if err := h.payments.ReconcileFromWebhook(r.Context(), event.Data.Object.ID, outcome); err != nil {
		log.Error().Err(err).Str("intent_id", event.Data.Object.ID).Msg("Failed to reconcile webhook event")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// verifySignature checks Stripe's "t=<unix>,v1=<hex hmac>" signature
// scheme: HMAC-SHA256 over "<t>.<body>" with the endpoint secret.
func (h *WebhookHandler) verifySignature(body []byte, header string) bool {
	var timestamp string
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if h.now().Sub(time.Unix(ts, 0)) > signatureTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, sig := range signatures {
		decoded, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	return false
}
