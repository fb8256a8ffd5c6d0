package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
}

// Enabled reports whether Stripe is configured.
func (c StripeConfig) Enabled() bool {
	return c.SecretKey != "" || c.WebhookSecret != ""
}

// SessionCreator creates a Stripe checkout session.
type SessionCreator func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)

// StripeProvider implements Provider for Stripe Checkout.
type StripeProvider struct {
	webhookSecret string
	catalog       Catalog
	newSession    SessionCreator
}

var _ Provider = (*StripeProvider)(nil)

// StripeOption configures a StripeProvider.
type StripeOption func(*StripeProvider)

// WithSessionCreator replaces the Stripe API call that creates checkout
// sessions.
func WithSessionCreator(fn SessionCreator) StripeOption {
	return func(p *StripeProvider) {
		if fn != nil {
			p.newSession = fn
		}
	}
}

func NewStripeProvider(cfg StripeConfig, catalog Catalog, opts ...StripeOption) (*StripeProvider, error) {
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: STRIPE_WEBHOOK_SECRET", ErrMissingWebhookSecret)
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: STRIPE_SECRET_KEY", ErrMissingAPIKey)
	}
	client := session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: cfg.SecretKey}
	p := &StripeProvider{
		webhookSecret: cfg.WebhookSecret,
		catalog:       catalog,
		newSession:    client.New,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *StripeProvider) Name() string            { return ProviderStripe }
func (p *StripeProvider) SignatureHeader() string { return "Stripe-Signature" }

// stripeCheckoutSession is the part of a checkout.session object we read.
type stripeCheckoutSession struct {
	ID              string `json:"id"`
	Mode            string `json:"mode"`
	PaymentStatus   string `json:"payment_status"`
	AmountTotal     int64  `json:"amount_total"`
	Currency        string `json:"currency"`
	Customer        string `json:"customer"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	ClientReferenceID string            `json:"client_reference_id"`
	PaymentIntent     string            `json:"payment_intent"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

type stripePaymentIntent struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	Customer       string            `json:"customer"`
	ReceiptEmail   string            `json:"receipt_email"`
	Metadata       map[string]string `json:"metadata"`
}

type stripeSubscription struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
	Items    struct {
		Data []struct {
			Price struct {
				ID        string `json:"id"`
				Recurring struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// ParseWebhook verifies a Stripe notification and translates it.
//
// One-time purchases are keyed by payment intent, so checkout.session.completed
// and payment_intent.succeeded for the same payment credit once.
func (p *StripeProvider) ParseWebhook(_ context.Context, payload []byte, signature string) (*PaymentEvent, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	base := PaymentEvent{
		ID:              ProviderStripe + ":" + event.ID,
		Provider:        ProviderStripe,
		ProviderEventID: event.ID,
		Type:            string(event.Type),
		OccurredAt:      time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: no data", ErrMalformedEvent)
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var s stripeCheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		return p.fromCheckoutSession(base, s)

	case "payment_intent.succeeded":
		var pi stripePaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		return p.fromPaymentIntent(base, pi)

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.resumed":
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		switch sub.Status {
		case "active", "trialing":
			return p.fromSubscription(base, sub, KindSubscriptionActivated)
		case "canceled", "unpaid", "incomplete_expired":
			return p.fromSubscription(base, sub, KindSubscriptionEnded)
		}
		return nil, fmt.Errorf("%w: subscription status %s", ErrIgnoredEvent, sub.Status)

	case "customer.subscription.deleted", "customer.subscription.paused":
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		return p.fromSubscription(base, sub, KindSubscriptionEnded)
	}
	return nil, fmt.Errorf("%w: %s", ErrIgnoredEvent, event.Type)
}

func (p *StripeProvider) fromCheckoutSession(ev PaymentEvent, s stripeCheckoutSession) (*PaymentEvent, error) {
	ev.Hint = hintFromMetadata(s.Metadata)
	if ev.Hint.AccountID == "" {
		ev.Hint.AccountID = s.ClientReferenceID
	}
	if ev.Hint.Email == "" {
		ev.Hint.Email = firstNonEmpty(s.CustomerDetails.Email, s.CustomerEmail)
	}
	ev.Hint.CustomerID = s.Customer
	ev.AmountCents = s.AmountTotal
	ev.Currency = strings.ToLower(s.Currency)

	switch s.Mode {
	case "payment":
		if s.PaymentStatus != "paid" {
			return nil, fmt.Errorf("%w: payment status %s", ErrIgnoredEvent, s.PaymentStatus)
		}
		ev.ID = ProviderStripe + ":" + firstNonEmpty(s.PaymentIntent, s.ID)
		ev.Kind = KindCreditPurchase
		offer, err := p.catalog.MatchPayment(s.AmountTotal, s.Currency)
		if err != nil {
			return nil, &UnmatchedPaymentError{Event: ev}
		}
		ev.Plan = offer.Plan
		ev.Credits = offer.Credits
		return &ev, nil

	case "subscription":
		plan, ok := planFromMetadata(s.Metadata)
		if !ok || !plan.Unlimited() {
			return nil, fmt.Errorf("%w: checkout session %s carries no subscription plan", ErrUnknownOffer, s.ID)
		}
		ev.Kind = KindSubscriptionActivated
		ev.Plan = plan
		return &ev, nil
	}
	return nil, fmt.Errorf("%w: checkout mode %s", ErrIgnoredEvent, s.Mode)
}

func (p *StripeProvider) fromPaymentIntent(ev PaymentEvent, pi stripePaymentIntent) (*PaymentEvent, error) {
	amount := pi.AmountReceived
	if amount == 0 {
		amount = pi.Amount
	}
	ev.ID = ProviderStripe + ":" + pi.ID
	ev.Kind = KindCreditPurchase
	ev.Hint = hintFromMetadata(pi.Metadata)
	if ev.Hint.Email == "" {
		ev.Hint.Email = pi.ReceiptEmail
	}
	ev.Hint.CustomerID = pi.Customer
	ev.AmountCents = amount
	ev.Currency = strings.ToLower(pi.Currency)
	offer, err := p.catalog.MatchPayment(amount, pi.Currency)
	if err != nil {
		return nil, &UnmatchedPaymentError{Event: ev}
	}
	ev.Plan = offer.Plan
	ev.Credits = offer.Credits
	return &ev, nil
}

func (p *StripeProvider) fromSubscription(ev PaymentEvent, sub stripeSubscription, kind EventKind) (*PaymentEvent, error) {
	ev.Kind = kind
	ev.Hint = hintFromMetadata(sub.Metadata)
	ev.Hint.CustomerID = sub.Customer
	if kind == KindSubscriptionEnded {
		return &ev, nil
	}

	if plan, ok := planFromMetadata(sub.Metadata); ok && plan.Unlimited() {
		ev.Plan = plan
		return &ev, nil
	}
	for _, item := range sub.Items.Data {
		if offer, ok := p.catalog.ByPriceID(ProviderStripe, item.Price.ID); ok && offer.Plan.Unlimited() {
			ev.Plan = offer.Plan
			return &ev, nil
		}
		if plan, ok := p.catalog.SubscriptionPlan(item.Price.Recurring.Interval); ok {
			ev.Plan = plan
			return &ev, nil
		}
	}
	return nil, fmt.Errorf("%w: subscription %s matches no plan", ErrUnknownOffer, sub.ID)
}

// CreateCheckout starts a Stripe Checkout session for the offer. Offers
// without a Stripe price id are sold with inline price data.
func (p *StripeProvider) CreateCheckout(_ context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	if req.AccountID == "" {
		return nil, ErrMissingAccountID
	}
	offer := req.Offer
	meta := req.metadata()

	item := &stripe.CheckoutSessionLineItemParams{Quantity: stripe.Int64(1)}
	if offer.StripePriceID != "" {
		item.Price = stripe.String(offer.StripePriceID)
	} else {
		item.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(offer.Currency),
			UnitAmount: stripe.Int64(offer.PriceCents),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(offer.Name),
			},
		}
		if offer.Recurring() {
			item.PriceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
				Interval: stripe.String(string(offer.Interval)),
			}
		}
	}

	params := &stripe.CheckoutSessionParams{
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.AccountID),
		LineItems:         []*stripe.CheckoutSessionLineItemParams{item},
		Metadata:          meta,
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	if offer.Recurring() {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{Metadata: meta}
	} else {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: meta}
	}

	s, err := p.newSession(params)
	if err != nil {
		return nil, errors.Join(ErrProviderError, err)
	}
	if s == nil || strings.TrimSpace(s.URL) == "" {
		return nil, ErrNoCheckoutURL
	}
	link := &CheckoutLink{URL: s.URL, SessionID: s.ID}
	if s.ExpiresAt > 0 {
		link.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	}
	return link, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
