package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/verdict/pkg/email"
	"github.com/dmitrymomot/verdict/pkg/entitlement"
	"github.com/dmitrymomot/verdict/pkg/identity"
	"github.com/dmitrymomot/verdict/pkg/logger"
)

// Outcome is the result of applying a payment event.
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeFailed     Outcome = "failed"
)

// Ledger applies payment effects to entitlement records exactly once per
// event id. *entitlement.Service implements it.
type Ledger interface {
	Processed(ctx context.Context, eventID string) (bool, error)
	Credit(ctx context.Context, eventID string, key identity.Key, credits int) (entitlement.Balance, error)
	Activate(ctx context.Context, eventID string, key identity.Key, plan entitlement.Plan, occurredAt time.Time) (entitlement.Balance, error)
	Lapse(ctx context.Context, eventID string, key identity.Key, occurredAt time.Time) (entitlement.Balance, error)
}

// ReceiptSender delivers purchase receipts.
type ReceiptSender interface {
	SendReceipt(ctx context.Context, r email.Receipt) error
}

// Reconciler turns verified payment events into entitlement changes.
type Reconciler struct {
	ledger   Ledger
	resolver *IdentityResolver
	accounts AccountDirectory
	receipts ReceiptSender
	log      *slog.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

func WithReceipts(s ReceiptSender) ReconcilerOption {
	return func(r *Reconciler) { r.receipts = s }
}

func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

func NewReconciler(ledger Ledger, accounts AccountDirectory, opts ...ReconcilerOption) *Reconciler {
	if ledger == nil {
		panic("billing: ledger is required")
	}
	r := &Reconciler{
		ledger:   ledger,
		resolver: NewIdentityResolver(accounts),
		accounts: accounts,
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply attributes ev to an account and applies its effect once.
//
// A nil error comes with OutcomeApplied, OutcomeDuplicate or OutcomeIgnored.
// ErrIdentityUnresolved comes with OutcomeUnresolved; the event is not
// recorded so a redelivery can succeed once the account is fixed.
func (r *Reconciler) Apply(ctx context.Context, ev PaymentEvent) (Outcome, error) {
	log := r.log.With(
		logger.Component("billing"),
		logger.Provider(ev.Provider),
		logger.EventID(ev.ID),
		slog.String("event_type", ev.Type),
	)

	done, err := r.ledger.Processed(ctx, ev.ID)
	if err != nil {
		return OutcomeFailed, err
	}
	if done {
		log.DebugContext(ctx, "payment event already processed")
		return OutcomeDuplicate, nil
	}

	id, err := r.resolver.Resolve(ctx, ev.Provider, ev.Hint)
	if err != nil {
		if errors.Is(err, ErrIdentityUnresolved) {
			log.ErrorContext(ctx, "payment event cannot be attributed to an account",
				slog.Any("hint", ev.Hint),
				slog.String("kind", string(ev.Kind)),
				slog.Int64("amount_cents", ev.AmountCents),
				slog.String("currency", ev.Currency),
				logger.Error(err),
			)
			return OutcomeUnresolved, err
		}
		return OutcomeFailed, fmt.Errorf("billing: resolve identity: %w", err)
	}
	key := id.Key()
	log = log.With(logger.Identity(key.String()))

	switch ev.Kind {
	case KindCreditPurchase:
		_, err = r.ledger.Credit(ctx, ev.ID, key, ev.Credits)
	case KindSubscriptionActivated:
		_, err = r.ledger.Activate(ctx, ev.ID, key, ev.Plan, ev.OccurredAt)
	case KindSubscriptionEnded:
		_, err = r.ledger.Lapse(ctx, ev.ID, key, ev.OccurredAt)
	default:
		return OutcomeIgnored, nil
	}

	switch {
	case errors.Is(err, entitlement.ErrDuplicateEvent):
		log.DebugContext(ctx, "payment event already processed")
		return OutcomeDuplicate, nil
	case errors.Is(err, entitlement.ErrStaleEvent), errors.Is(err, entitlement.ErrInvalidTransition):
		log.WarnContext(ctx, "payment event ignored", logger.Error(err))
		return OutcomeIgnored, nil
	case err != nil:
		return OutcomeFailed, err
	}

	log.InfoContext(ctx, "payment event applied",
		slog.String("kind", string(ev.Kind)),
		slog.String("plan", string(ev.Plan)),
		slog.Int("credits", ev.Credits),
	)

	if ev.Hint.CustomerID != "" && r.accounts != nil {
		if err := r.accounts.LinkCustomer(ctx, id.AccountID, ev.Provider, ev.Hint.CustomerID); err != nil {
			log.WarnContext(ctx, "failed to link provider customer", logger.Error(err))
		}
	}
	if ev.Kind != KindSubscriptionEnded {
		r.sendReceipt(ctx, log, id, ev)
	}
	return OutcomeApplied, nil
}

func (r *Reconciler) sendReceipt(ctx context.Context, log *slog.Logger, id identity.Identity, ev PaymentEvent) {
	if r.receipts == nil || id.Email == "" {
		return
	}
	err := r.receipts.SendReceipt(ctx, email.Receipt{
		To:          id.Email,
		Plan:        string(ev.Plan),
		Credits:     ev.Credits,
		AmountCents: ev.AmountCents,
		Currency:    ev.Currency,
		Reference:   ev.ProviderEventID,
		IssuedAt:    ev.OccurredAt,
	})
	if err != nil {
		log.WarnContext(ctx, "failed to send receipt", logger.Error(err))
	}
}
