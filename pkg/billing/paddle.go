package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds Paddle credentials.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// Enabled reports whether Paddle is configured.
func (c PaddleConfig) Enabled() bool {
	return c.APIKey != "" || c.WebhookSecret != ""
}

// TransactionCreator creates a Paddle transaction.
type TransactionCreator func(ctx context.Context, req *paddle.CreateTransactionRequest) (*paddle.Transaction, error)

// PaddleProvider implements Provider for Paddle Billing.
type PaddleProvider struct {
	verifier       *paddle.WebhookVerifier
	catalog        Catalog
	newTransaction TransactionCreator
}

var _ Provider = (*PaddleProvider)(nil)

// PaddleOption configures a PaddleProvider.
type PaddleOption func(*PaddleProvider)

// WithTransactionCreator replaces the Paddle API call that creates
// checkout transactions.
func WithTransactionCreator(fn TransactionCreator) PaddleOption {
	return func(p *PaddleProvider) {
		if fn != nil {
			p.newTransaction = fn
		}
	}
}

func NewPaddleProvider(cfg PaddleConfig, catalog Catalog, opts ...PaddleOption) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: PADDLE_API_KEY", ErrMissingAPIKey)
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: PADDLE_WEBHOOK_SECRET", ErrMissingWebhookSecret)
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProviderEnvironment, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("billing: create paddle client: %w", err)
	}

	p := &PaddleProvider{
		verifier:       paddle.NewWebhookVerifier(cfg.WebhookSecret),
		catalog:        catalog,
		newTransaction: client.TransactionsClient.CreateTransaction,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *PaddleProvider) Name() string            { return ProviderPaddle }
func (p *PaddleProvider) SignatureHeader() string { return "Paddle-Signature" }

type paddleNotification struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type paddleItem struct {
	PriceID string `json:"price_id"`
	Price   struct {
		ID           string `json:"id"`
		BillingCycle *struct {
			Interval string `json:"interval"`
		} `json:"billing_cycle"`
	} `json:"price"`
}

func (i paddleItem) priceID() string {
	return firstNonEmpty(i.Price.ID, i.PriceID)
}

type paddleTransaction struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	CurrencyCode   string         `json:"currency_code"`
	CustomData     map[string]any `json:"custom_data"`
	Items          []paddleItem   `json:"items"`
	Details        struct {
		Totals struct {
			GrandTotal string `json:"grand_total"`
		} `json:"totals"`
	} `json:"details"`
}

type paddleSubscription struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	CustomerID string         `json:"customer_id"`
	CustomData map[string]any `json:"custom_data"`
	Items      []paddleItem   `json:"items"`
}

// ParseWebhook verifies a Paddle notification and translates it.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*PaymentEvent, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhooks/paddle", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("billing: build verification request: %w", err)
	}
	req.Header.Set(p.SignatureHeader(), signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	if !valid {
		return nil, ErrInvalidSignature
	}

	var n paddleNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	if n.EventID == "" || len(n.Data) == 0 {
		return nil, fmt.Errorf("%w: missing event id or data", ErrMalformedEvent)
	}

	base := PaymentEvent{
		ID:              ProviderPaddle + ":" + n.EventID,
		Provider:        ProviderPaddle,
		ProviderEventID: n.EventID,
		Type:            n.EventType,
		OccurredAt:      parsePaddleTime(n.OccurredAt),
	}

	switch n.EventType {
	case "transaction.completed":
		var txn paddleTransaction
		if err := json.Unmarshal(n.Data, &txn); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		return p.fromTransaction(base, txn)

	case "subscription.activated", "subscription.resumed", "subscription.updated",
		"subscription.canceled", "subscription.paused":
		var sub paddleSubscription
		if err := json.Unmarshal(n.Data, &sub); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		switch sub.Status {
		case "active", "trialing":
			return p.fromSubscription(base, sub, KindSubscriptionActivated)
		case "canceled", "paused":
			return p.fromSubscription(base, sub, KindSubscriptionEnded)
		}
		return nil, fmt.Errorf("%w: subscription status %s", ErrIgnoredEvent, sub.Status)
	}
	return nil, fmt.Errorf("%w: %s", ErrIgnoredEvent, n.EventType)
}

func (p *PaddleProvider) fromTransaction(ev PaymentEvent, txn paddleTransaction) (*PaymentEvent, error) {
	ev.Hint = hintFromMetadata(stringMap(txn.CustomData))
	ev.Hint.CustomerID = txn.CustomerID
	ev.Currency = strings.ToLower(txn.CurrencyCode)
	if total := strings.TrimSpace(txn.Details.Totals.GrandTotal); total != "" {
		amount, err := strconv.ParseInt(total, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: grand total %q", ErrMalformedEvent, total)
		}
		ev.AmountCents = amount
	}

	// Renewals and first payments of a subscription arrive as transactions
	// as well; the subscription notifications carry the plan change.
	if txn.SubscriptionID != "" {
		return nil, fmt.Errorf("%w: subscription transaction %s", ErrIgnoredEvent, txn.ID)
	}

	ev.ID = ProviderPaddle + ":" + txn.ID
	ev.Kind = KindCreditPurchase
	offer, err := p.catalog.MatchPayment(ev.AmountCents, ev.Currency)
	if err != nil {
		matched := false
		for _, item := range txn.Items {
			if o, ok := p.catalog.ByPriceID(ProviderPaddle, item.priceID()); ok && !o.Recurring() {
				offer, matched = o, true
				break
			}
		}
		if !matched {
			return nil, &UnmatchedPaymentError{Event: ev}
		}
	}
	ev.Plan = offer.Plan
	ev.Credits = offer.Credits
	return &ev, nil
}

func (p *PaddleProvider) fromSubscription(ev PaymentEvent, sub paddleSubscription, kind EventKind) (*PaymentEvent, error) {
	meta := stringMap(sub.CustomData)
	ev.Kind = kind
	ev.Hint = hintFromMetadata(meta)
	ev.Hint.CustomerID = sub.CustomerID
	if kind == KindSubscriptionEnded {
		return &ev, nil
	}

	if plan, ok := planFromMetadata(meta); ok && plan.Unlimited() {
		ev.Plan = plan
		return &ev, nil
	}
	for _, item := range sub.Items {
		if offer, ok := p.catalog.ByPriceID(ProviderPaddle, item.priceID()); ok && offer.Plan.Unlimited() {
			ev.Plan = offer.Plan
			return &ev, nil
		}
		if item.Price.BillingCycle != nil {
			if plan, ok := p.catalog.SubscriptionPlan(item.Price.BillingCycle.Interval); ok {
				ev.Plan = plan
				return &ev, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: subscription %s matches no plan", ErrUnknownOffer, sub.ID)
}

// CreateCheckout creates a Paddle transaction for the offer and returns its
// hosted checkout URL. Paddle sells catalog prices only, so the offer needs
// a Paddle price id.
func (p *PaddleProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	if req.AccountID == "" {
		return nil, ErrMissingAccountID
	}
	if req.Offer.PaddlePriceID == "" {
		return nil, fmt.Errorf("%w: %s has no paddle price", ErrUnknownOffer, req.Offer.Plan)
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.Offer.PaddlePriceID,
		Quantity: 1,
	})
	custom := paddle.CustomData{}
	for k, v := range req.metadata() {
		custom[k] = v
	}
	txnReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: custom,
	}
	if req.SuccessURL != "" {
		txnReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.SuccessURL)}
	}

	txn, err := p.newTransaction(ctx, txnReq)
	if err != nil {
		return nil, errors.Join(ErrProviderError, err)
	}
	if txn == nil || txn.Checkout == nil || txn.Checkout.URL == nil || *txn.Checkout.URL == "" {
		return nil, ErrNoCheckoutURL
	}
	return &CheckoutLink{
		URL:       *txn.Checkout.URL,
		SessionID: txn.ID,
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}, nil
}

func parsePaddleTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func stringMap(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		}
	}
	return out
}
