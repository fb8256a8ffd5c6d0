package billing

import (
	"errors"
	"fmt"
)

var (
	ErrIdentityUnresolved = errors.New("billing: payment cannot be attributed to an account")
	ErrAccountNotFound    = errors.New("billing: account not found")
	ErrAmbiguousEmail     = errors.New("billing: email matches more than one account")
	ErrIgnoredEvent       = errors.New("billing: event does not affect entitlements")
	ErrInvalidSignature   = errors.New("billing: webhook signature verification failed")
	ErrMalformedEvent     = errors.New("billing: malformed webhook payload")
	ErrAmountMismatch     = errors.New("billing: payment amount matches no offer")
	ErrUnknownOffer       = errors.New("billing: unknown offer")
	ErrInvalidCatalog     = errors.New("billing: invalid catalog")
	ErrProviderError      = errors.New("billing: provider request failed")
	ErrNoCheckoutURL      = errors.New("billing: no checkout url returned from provider")

	ErrMissingAPIKey              = errors.New("billing: provider api key is required")
	ErrMissingWebhookSecret       = errors.New("billing: provider webhook secret is required")
	ErrInvalidProviderEnvironment = errors.New("billing: invalid provider environment")
	ErrMissingAccountID           = errors.New("billing: account id is required for checkout")
)

// UnmatchedPaymentError is a paid one-off payment whose amount matches no
// catalog offer. The customer was charged, so it is never ignored.
type UnmatchedPaymentError struct {
	Event PaymentEvent
}

func (e *UnmatchedPaymentError) Error() string {
	return fmt.Sprintf("%s: event %s paid %d %s", ErrAmountMismatch, e.Event.ID, e.Event.AmountCents, e.Event.Currency)
}

func (e *UnmatchedPaymentError) Unwrap() error { return ErrAmountMismatch }
