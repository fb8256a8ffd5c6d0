package billing

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/verdict/pkg/entitlement"
)

// Provider names, also used as idempotency key prefixes.
const (
	ProviderStripe = "stripe"
	ProviderPaddle = "paddle"
)

// Checkout metadata keys. They are attached to every checkout so that the
// payer can be identified when the payment notification arrives.
const (
	MetaAccountID = "account_id"
	MetaEmail     = "email"
	MetaPlan      = "plan"
	MetaCredits   = "credits"
)

// Provider integrates one payment processor.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// SignatureHeader names the HTTP header carrying the webhook signature.
	SignatureHeader() string

	// ParseWebhook verifies the signature and translates the payload.
	// Notifications without entitlement effect yield ErrIgnoredEvent.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*PaymentEvent, error)

	// CreateCheckout starts a hosted checkout for offer.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error)
}

// CheckoutRequest describes a checkout to start.
type CheckoutRequest struct {
	Offer      Offer
	AccountID  string
	Email      string
	SuccessURL string
	CancelURL  string
}

func (r CheckoutRequest) metadata() map[string]string {
	m := map[string]string{
		MetaAccountID: r.AccountID,
		MetaPlan:      string(r.Offer.Plan),
	}
	if r.Email != "" {
		m[MetaEmail] = strings.ToLower(r.Email)
	}
	if r.Offer.Credits > 0 {
		m[MetaCredits] = strconv.Itoa(r.Offer.Credits)
	}
	return m
}

// CheckoutLink is a hosted checkout session.
type CheckoutLink struct {
	URL       string    `json:"url"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// hintFromMetadata reads the payer hint from checkout metadata. Keys written
// by older checkouts are accepted as well.
func hintFromMetadata(meta map[string]string) Hint {
	h := Hint{
		AccountID: strings.TrimSpace(meta[MetaAccountID]),
		Email:     strings.TrimSpace(meta[MetaEmail]),
	}
	if h.AccountID == "" {
		h.AccountID = strings.TrimSpace(meta["user_id"])
	}
	if h.Email == "" {
		h.Email = strings.TrimSpace(meta["user_email"])
	}
	return h
}

// planFromMetadata returns the plan recorded at checkout, if valid.
func planFromMetadata(meta map[string]string) (entitlement.Plan, bool) {
	p := entitlement.Plan(strings.TrimSpace(meta[MetaPlan]))
	return p, p.Valid() && p != entitlement.PlanNone
}
