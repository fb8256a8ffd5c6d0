package billing

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/verdict/pkg/entitlement"
)

// EventKind is the entitlement effect of a payment event.
type EventKind string

const (
	KindCreditPurchase        EventKind = "credit_purchase"
	KindSubscriptionActivated EventKind = "subscription_activated"
	KindSubscriptionEnded     EventKind = "subscription_ended"
)

// Hint is what a payment event says about who paid.
type Hint struct {
	AccountID  string `json:"account_id,omitempty"`
	Email      string `json:"email,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
}

// LogValue renders the hint for operator logs.
func (h Hint) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("account_id", h.AccountID),
		slog.String("email", h.Email),
		slog.String("customer_id", h.CustomerID),
	)
}

// PaymentEvent is a verified, provider-neutral payment notification.
type PaymentEvent struct {
	// ID is the idempotency key, prefixed with the provider name. One-time
	// purchases use the payment id so that every notification about the same
	// payment collapses into one key.
	ID              string
	Provider        string
	ProviderEventID string
	Type            string
	Kind            EventKind
	Hint            Hint
	AmountCents     int64
	Currency        string
	Plan            entitlement.Plan
	Credits         int
	OccurredAt      time.Time
}
