package entitlement

import (
	"time"

	"github.com/dmitrymomot/verdict/pkg/identity"
)

// Plan is the billing plan of an identity.
type Plan string

const (
	PlanNone      Plan = "none"
	PlanPayPerUse Plan = "pay_per_use"
	PlanMonthly   Plan = "monthly"
	PlanYearly    Plan = "yearly"
)

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	switch p {
	case PlanNone, PlanPayPerUse, PlanMonthly, PlanYearly:
		return true
	}
	return false
}

// Unlimited reports whether p is a subscription plan granting unlimited checks.
func (p Plan) Unlimited() bool {
	return p == PlanMonthly || p == PlanYearly
}

// Source is the bucket a check is drawn from.
type Source string

const (
	SourceNone      Source = ""
	SourceFree      Source = "free"
	SourceCredit    Source = "credit"
	SourceUnlimited Source = "unlimited"
)

// Record is the entitlement state of one identity.
type Record struct {
	Key           identity.Key
	Plan          Plan
	FreeUsed      int
	FreeTotal     int
	PeriodStart   time.Time
	Credits       int
	Unlimited     bool
	PlanChangedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	// Version counts persisted writes. Zero means the record has never been stored.
	Version int64
}

// IsNew reports whether the record has never been persisted.
func (r Record) IsNew() bool {
	return r.Version == 0
}

// FreeRemaining returns the unused part of the free allowance.
func (r Record) FreeRemaining() int {
	return max(0, r.FreeTotal-r.FreeUsed)
}

// touch advances UpdatedAt without ever moving it backwards.
func (r *Record) touch(now time.Time) {
	if now.After(r.UpdatedAt) {
		r.UpdatedAt = now
	}
}

// Balance is the caller-facing view of a record.
type Balance struct {
	Remaining     int       `json:"remaining"`
	Total         int       `json:"total"`
	Unlimited     bool      `json:"unlimited"`
	Plan          Plan      `json:"plan"`
	FreeRemaining int       `json:"free_remaining"`
	FreeTotal     int       `json:"free_total"`
	Credits       int       `json:"credits"`
	ResetsAt      time.Time `json:"resets_at,omitzero"`
}

// BalanceOf projects rec for display. While a subscription is active the
// free and credit buckets are not consulted, so they are reported as zero.
func (p Policy) BalanceOf(rec Record) Balance {
	if rec.Unlimited {
		return Balance{Unlimited: true, Plan: rec.Plan}
	}
	b := Balance{
		Plan:          rec.Plan,
		FreeRemaining: rec.FreeRemaining(),
		FreeTotal:     rec.FreeTotal,
		Credits:       rec.Credits,
	}
	b.Remaining = b.FreeRemaining + b.Credits
	b.Total = b.FreeTotal + b.Credits
	if !rec.PeriodStart.IsZero() {
		b.ResetsAt = rec.PeriodStart.Add(p.ResetPeriod)
	}
	return b
}
