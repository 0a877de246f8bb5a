// internal/gateway/stripe.go
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vasiliy-maslov/laptophub/internal/payment"
)

const defaultBaseURL = "https://api.stripe.com/v1"

// Stripe implements payment.Gateway over Stripe's payment-intents REST
// API.
type Stripe struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewStripe(apiKey string) *Stripe {
	return &Stripe{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// NewStripeWithBaseURL exists for tests pointed at a stub server.
func NewStripeWithBaseURL(apiKey, baseURL string) *Stripe {
	s := NewStripe(apiKey)
	s.baseURL = strings.TrimSuffix(baseURL, "/")
	return s
}

type intentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (s *Stripe) CreateIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (string, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountMinor, 10))
	form.Set("currency", currency)
	for k, v := range metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	intent, err := s.do(ctx, http.MethodPost, "/payment_intents", form)
	if err != nil {
		return "", err
	}
	return intent.ID, nil
}

func (s *Stripe) GetIntentStatus(ctx context.Context, intentID string) (payment.IntentStatus, error) {
	intent, err := s.do(ctx, http.MethodGet, "/payment_intents/"+intentID, nil)
	if err != nil {
		return "", err
	}

	switch intent.Status {
	case "succeeded":
		return payment.IntentSucceeded, nil
	case "canceled":
		return payment.IntentFailed, nil
	default:
		// requires_payment_method, requires_confirmation, requires_action,
		// processing: the charge is still in flight.
		return payment.IntentPending, nil
	}
}

func (s *Stripe) CancelIntent(ctx context.Context, intentID string) error {
	_, err := s.do(ctx, http.MethodPost, "/payment_intents/"+intentID+"/cancel", nil)
	return err
}

func (s *Stripe) do(ctx context.Context, method, path string, form url.Values) (*intentResponse, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("gateway: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("gateway: failed to read response: %w", err)
	}

	var intent intentResponse
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, fmt.Errorf("gateway: failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode >= 400 {
		msg := "unknown error"
		if intent.Error != nil {
			msg = intent.Error.Message
		}
		return nil, fmt.Errorf("gateway: stripe returned %d: %s", resp.StatusCode, msg)
	}
	return &intent, nil
}
