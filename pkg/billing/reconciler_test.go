package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/verdict/pkg/billing"
	"github.com/dmitrymomot/verdict/pkg/email"
	"github.com/dmitrymomot/verdict/pkg/entitlement"
	"github.com/dmitrymomot/verdict/pkg/identity"
)

type receiptRecorder struct {
	mu   sync.Mutex
	sent []email.Receipt
	err  error
}

func (r *receiptRecorder) SendReceipt(_ context.Context, rc email.Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, rc)
	return r.err
}

func (r *receiptRecorder) Sent() []email.Receipt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]email.Receipt(nil), r.sent...)
}

type failingLedger struct {
	billing.Ledger
}

func (failingLedger) Processed(context.Context, string) (bool, error) {
	return false, entitlement.ErrStoreUnavailable
}

func creditEvent(id string, hint billing.Hint) billing.PaymentEvent {
	return billing.PaymentEvent{
		ID:              "stripe:" + id,
		Provider:        billing.ProviderStripe,
		ProviderEventID: id,
		Type:            "payment_intent.succeeded",
		Kind:            billing.KindCreditPurchase,
		Hint:            hint,
		AmountCents:     300,
		Currency:        "usd",
		Plan:            entitlement.PlanPayPerUse,
		Credits:         15,
	}
}

func newReconciler(t *testing.T) (*billing.Reconciler, *entitlement.Service, *billing.MemoryDirectory, *receiptRecorder) {
	t.Helper()
	svc := entitlement.NewService(entitlement.NewMemoryStore())
	dir := testDirectory()
	receipts := &receiptRecorder{}
	return billing.NewReconciler(svc, dir, billing.WithReceipts(receipts)), svc, dir, receipts
}

func TestReconciler_Apply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	alice := identity.Authenticated("acc_1", "alice@example.com")

	t.Run("credit purchase", func(t *testing.T) {
		t.Parallel()
		rec, svc, dir, receipts := newReconciler(t)

		ev := creditEvent("pi_1", billing.Hint{AccountID: "acc_1", CustomerID: "cus_new"})
		outcome, err := rec.Apply(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeApplied, outcome)

		bal, err := svc.Check(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, 18, bal.Remaining)
		assert.Equal(t, 15, bal.Credits)
		assert.Equal(t, entitlement.PlanPayPerUse, bal.Plan)

		acc, err := dir.ByCustomer(ctx, billing.ProviderStripe, "cus_new")
		require.NoError(t, err)
		assert.Equal(t, "acc_1", acc.ID)

		sent := receipts.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, "alice@example.com", sent[0].To)
		assert.Equal(t, 15, sent[0].Credits)
		assert.Equal(t, "pi_1", sent[0].Reference)
	})

	t.Run("redelivery credits once", func(t *testing.T) {
		t.Parallel()
		rec, svc, _, receipts := newReconciler(t)
		ev := creditEvent("pi_2", billing.Hint{Email: "bob@example.com"})

		for range 3 {
			_, err := rec.Apply(ctx, ev)
			require.NoError(t, err)
		}
		outcome, err := rec.Apply(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeDuplicate, outcome)

		bal, err := svc.Check(ctx, identity.Authenticated("acc_2", "bob@example.com"))
		require.NoError(t, err)
		assert.Equal(t, 15, bal.Credits)
		assert.Len(t, receipts.Sent(), 1)
	})

	t.Run("concurrent redelivery credits once", func(t *testing.T) {
		t.Parallel()
		rec, svc, _, _ := newReconciler(t)
		ev := creditEvent("pi_3", billing.Hint{AccountID: "acc_1"})

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			applied int
		)
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcome, err := rec.Apply(ctx, ev)
				assert.NoError(t, err)
				if outcome == billing.OutcomeApplied {
					mu.Lock()
					applied++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, applied)
		bal, err := svc.Check(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, 15, bal.Credits)
	})

	t.Run("unresolved payer is not recorded", func(t *testing.T) {
		t.Parallel()
		rec, svc, dir, _ := newReconciler(t)
		ev := creditEvent("pi_4", billing.Hint{Email: "carol@example.com"})

		outcome, err := rec.Apply(ctx, ev)
		require.ErrorIs(t, err, billing.ErrIdentityUnresolved)
		assert.Equal(t, billing.OutcomeUnresolved, outcome)

		done, err := svc.Processed(ctx, ev.ID)
		require.NoError(t, err)
		assert.False(t, done)

		// Once the account exists the redelivery succeeds.
		require.NoError(t, dir.Save(ctx, billing.Account{ID: "acc_5", Email: "carol@example.com"}))
		outcome, err = rec.Apply(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeApplied, outcome)
	})

	t.Run("subscription lifecycle", func(t *testing.T) {
		t.Parallel()
		rec, svc, _, receipts := newReconciler(t)
		start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		outcome, err := rec.Apply(ctx, billing.PaymentEvent{
			ID: "stripe:evt_a", Provider: billing.ProviderStripe, Kind: billing.KindSubscriptionActivated,
			Hint: billing.Hint{AccountID: "acc_1"}, Plan: entitlement.PlanMonthly, OccurredAt: start,
		})
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeApplied, outcome)

		bal, err := svc.Check(ctx, alice)
		require.NoError(t, err)
		assert.True(t, bal.Unlimited)

		// An older cancellation delivered late is ignored.
		outcome, err = rec.Apply(ctx, billing.PaymentEvent{
			ID: "stripe:evt_b", Provider: billing.ProviderStripe, Kind: billing.KindSubscriptionEnded,
			Hint: billing.Hint{AccountID: "acc_1"}, OccurredAt: start.Add(-time.Hour),
		})
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeIgnored, outcome)

		outcome, err = rec.Apply(ctx, billing.PaymentEvent{
			ID: "stripe:evt_c", Provider: billing.ProviderStripe, Kind: billing.KindSubscriptionEnded,
			Hint: billing.Hint{AccountID: "acc_1"}, OccurredAt: start.Add(30 * 24 * time.Hour),
		})
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeApplied, outcome)

		bal, err = svc.Check(ctx, alice)
		require.NoError(t, err)
		assert.False(t, bal.Unlimited)
		assert.Equal(t, entitlement.PlanNone, bal.Plan)

		assert.Len(t, receipts.Sent(), 1, "no receipt for a lapse")
	})

	t.Run("receipt failure does not fail the event", func(t *testing.T) {
		t.Parallel()
		svc := entitlement.NewService(entitlement.NewMemoryStore())
		receipts := &receiptRecorder{err: errors.New("smtp down")}
		rec := billing.NewReconciler(svc, testDirectory(), billing.WithReceipts(receipts))

		outcome, err := rec.Apply(ctx, creditEvent("pi_6", billing.Hint{AccountID: "acc_1"}))
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeApplied, outcome)
	})

	t.Run("ledger failure", func(t *testing.T) {
		t.Parallel()
		rec := billing.NewReconciler(failingLedger{}, testDirectory())

		outcome, err := rec.Apply(ctx, creditEvent("pi_7", billing.Hint{AccountID: "acc_1"}))
		require.ErrorIs(t, err, entitlement.ErrStoreUnavailable)
		assert.Equal(t, billing.OutcomeFailed, outcome)
	})
}
