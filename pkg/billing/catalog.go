package billing

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/verdict/pkg/entitlement"
)

// Interval is the billing period of a recurring offer.
type Interval string

const (
	IntervalNone  Interval = ""
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// Offer is something a customer can buy.
type Offer struct {
	Plan          entitlement.Plan `yaml:"plan" json:"plan"`
	Name          string           `yaml:"name" json:"name"`
	PriceCents    int64            `yaml:"price_cents" json:"price_cents"`
	Currency      string           `yaml:"currency" json:"currency"`
	Credits       int              `yaml:"credits,omitempty" json:"credits,omitempty"`
	Interval      Interval         `yaml:"interval,omitempty" json:"interval,omitempty"`
	StripePriceID string           `yaml:"stripe_price_id,omitempty" json:"-"`
	PaddlePriceID string           `yaml:"paddle_price_id,omitempty" json:"-"`
}

// Recurring reports whether the offer is a subscription.
func (o Offer) Recurring() bool {
	return o.Interval != IntervalNone
}

// Catalog lists the offers for sale.
type Catalog struct {
	Offers []Offer `yaml:"offers"`
}

// DefaultCatalog sells 15 checks for 3 USD and unlimited monthly or yearly
// subscriptions.
func DefaultCatalog() Catalog {
	return Catalog{Offers: []Offer{
		{Plan: entitlement.PlanPayPerUse, Name: "15 checks", PriceCents: 300, Currency: "usd", Credits: 15},
		{Plan: entitlement.PlanMonthly, Name: "Unlimited monthly", PriceCents: 1299, Currency: "usd", Interval: IntervalMonth},
		{Plan: entitlement.PlanYearly, Name: "Unlimited yearly", PriceCents: 9900, Currency: "usd", Interval: IntervalYear},
	}}
}

// LoadCatalog reads a YAML catalog from path.
func LoadCatalog(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("billing: read catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Catalog{}, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	for i := range c.Offers {
		c.Offers[i].Currency = strings.ToLower(c.Offers[i].Currency)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// Validate checks that every offer is coherent and plans are unique.
func (c Catalog) Validate() error {
	if len(c.Offers) == 0 {
		return fmt.Errorf("%w: no offers", ErrInvalidCatalog)
	}
	seen := make(map[entitlement.Plan]bool, len(c.Offers))
	for _, o := range c.Offers {
		switch {
		case !o.Plan.Valid() || o.Plan == entitlement.PlanNone:
			return fmt.Errorf("%w: offer %q has invalid plan %q", ErrInvalidCatalog, o.Name, o.Plan)
		case seen[o.Plan]:
			return fmt.Errorf("%w: duplicate plan %q", ErrInvalidCatalog, o.Plan)
		case o.PriceCents <= 0 || o.Currency == "":
			return fmt.Errorf("%w: offer %q needs a price and currency", ErrInvalidCatalog, o.Name)
		case o.Plan.Unlimited() != o.Recurring():
			return fmt.Errorf("%w: offer %q: only subscription plans recur", ErrInvalidCatalog, o.Name)
		case !o.Recurring() && o.Credits <= 0:
			return fmt.Errorf("%w: offer %q must grant credits", ErrInvalidCatalog, o.Name)
		}
		seen[o.Plan] = true
	}
	return nil
}

// Offer returns the offer for plan.
func (c Catalog) Offer(plan entitlement.Plan) (Offer, error) {
	for _, o := range c.Offers {
		if o.Plan == plan {
			return o, nil
		}
	}
	return Offer{}, fmt.Errorf("%w: %s", ErrUnknownOffer, plan)
}

// MatchPayment finds the one-time offer a payment of amount pays for.
func (c Catalog) MatchPayment(amountCents int64, currency string) (Offer, error) {
	for _, o := range c.Offers {
		if !o.Recurring() && o.PriceCents == amountCents && strings.EqualFold(o.Currency, currency) {
			return o, nil
		}
	}
	return Offer{}, fmt.Errorf("%w: %d %s", ErrAmountMismatch, amountCents, currency)
}

// ByPriceID finds an offer by a provider price id.
func (c Catalog) ByPriceID(provider, priceID string) (Offer, bool) {
	if priceID == "" {
		return Offer{}, false
	}
	for _, o := range c.Offers {
		if (provider == ProviderStripe && o.StripePriceID == priceID) ||
			(provider == ProviderPaddle && o.PaddlePriceID == priceID) {
			return o, true
		}
	}
	return Offer{}, false
}

// SubscriptionPlan maps a billing interval to a subscription plan.
func (c Catalog) SubscriptionPlan(interval string) (entitlement.Plan, bool) {
	for _, o := range c.Offers {
		if o.Recurring() && string(o.Interval) == strings.ToLower(interval) {
			return o.Plan, true
		}
	}
	return "", false
}
