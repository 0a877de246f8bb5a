package payment

import "context"

// IntentStatus is the gateway's view of a payment intent, collapsed to
// the three outcomes the coordinator acts on.
type IntentStatus string

const (
	IntentSucceeded IntentStatus = "succeeded"
	IntentPending   IntentStatus = "pending"
	IntentFailed    IntentStatus = "failed"
)

// Gateway is the outbound payment-processor contract. Amounts are in the
// gateway's minor currency unit (cents for USD).
type Gateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (string, error)
	GetIntentStatus(ctx context.Context, intentID string) (IntentStatus, error)
	CancelIntent(ctx context.Context, intentID string) error
}
