package billing_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/verdict/pkg/billing"
	"github.com/dmitrymomot/verdict/pkg/entitlement"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	c := billing.DefaultCatalog()
	require.NoError(t, c.Validate())

	t.Run("one-time payment matches pay-per-use", func(t *testing.T) {
		t.Parallel()
		offer, err := c.MatchPayment(300, "USD")
		require.NoError(t, err)
		assert.Equal(t, entitlement.PlanPayPerUse, offer.Plan)
		assert.Equal(t, 15, offer.Credits)
	})

	t.Run("wrong amount is rejected", func(t *testing.T) {
		t.Parallel()
		_, err := c.MatchPayment(299, "usd")
		assert.ErrorIs(t, err, billing.ErrAmountMismatch)
	})

	t.Run("subscription price is not a one-time payment", func(t *testing.T) {
		t.Parallel()
		_, err := c.MatchPayment(1299, "usd")
		assert.ErrorIs(t, err, billing.ErrAmountMismatch)
	})

	t.Run("interval maps to subscription plan", func(t *testing.T) {
		t.Parallel()
		plan, ok := c.SubscriptionPlan("year")
		require.True(t, ok)
		assert.Equal(t, entitlement.PlanYearly, plan)

		_, ok = c.SubscriptionPlan("week")
		assert.False(t, ok)
	})

	t.Run("unknown plan", func(t *testing.T) {
		t.Parallel()
		_, err := c.Offer(entitlement.PlanNone)
		assert.ErrorIs(t, err, billing.ErrUnknownOffer)
	})
}

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	write := func(t *testing.T, body string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "catalog.yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		return path
	}

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		path := write(t, `
offers:
  - plan: pay_per_use
    name: 30 checks
    price_cents: 500
    currency: EUR
    credits: 30
    stripe_price_id: price_ppu
  - plan: monthly
    name: Unlimited
    price_cents: 1500
    currency: EUR
    interval: month
    paddle_price_id: pri_monthly
`)
		c, err := billing.LoadCatalog(path)
		require.NoError(t, err)
		require.Len(t, c.Offers, 2)
		assert.Equal(t, "eur", c.Offers[0].Currency)

		offer, ok := c.ByPriceID(billing.ProviderStripe, "price_ppu")
		require.True(t, ok)
		assert.Equal(t, 30, offer.Credits)

		offer, ok = c.ByPriceID(billing.ProviderPaddle, "pri_monthly")
		require.True(t, ok)
		assert.Equal(t, entitlement.PlanMonthly, offer.Plan)

		_, ok = c.ByPriceID(billing.ProviderStripe, "pri_monthly")
		assert.False(t, ok)
	})

	t.Run("duplicate plan", func(t *testing.T) {
		t.Parallel()
		path := write(t, `
offers:
  - {plan: pay_per_use, name: a, price_cents: 100, currency: usd, credits: 5}
  - {plan: pay_per_use, name: b, price_cents: 200, currency: usd, credits: 10}
`)
		_, err := billing.LoadCatalog(path)
		assert.ErrorIs(t, err, billing.ErrInvalidCatalog)
	})

	t.Run("recurring pay-per-use", func(t *testing.T) {
		t.Parallel()
		path := write(t, `
offers:
  - {plan: pay_per_use, name: a, price_cents: 100, currency: usd, credits: 5, interval: month}
`)
		_, err := billing.LoadCatalog(path)
		assert.ErrorIs(t, err, billing.ErrInvalidCatalog)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		t.Parallel()
		_, err := billing.LoadCatalog(write(t, "offers: ["))
		assert.ErrorIs(t, err, billing.ErrInvalidCatalog)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := billing.LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
