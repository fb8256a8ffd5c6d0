package entitlement

import (
	"fmt"
	"time"

	"github.com/dmitrymomot/verdict/pkg/identity"
)

// Policy holds the free-tier parameters.
type Policy struct {
	FreeTotalAnonymous     int           `env:"QUOTA_FREE_ANONYMOUS" envDefault:"3"`
	FreeTotalAuthenticated int           `env:"QUOTA_FREE_AUTHENTICATED" envDefault:"3"`
	ResetPeriod            time.Duration `env:"QUOTA_RESET_PERIOD" envDefault:"168h"`
}

// DefaultPolicy grants three free checks per week to every identity.
func DefaultPolicy() Policy {
	return Policy{
		FreeTotalAnonymous:     3,
		FreeTotalAuthenticated: 3,
		ResetPeriod:            7 * 24 * time.Hour,
	}
}

// Validate checks the policy parameters.
func (p Policy) Validate() error {
	if p.FreeTotalAnonymous < 0 || p.FreeTotalAuthenticated < 0 {
		return fmt.Errorf("%w: free totals must not be negative", ErrInvalidPolicy)
	}
	if p.ResetPeriod <= 0 {
		return fmt.Errorf("%w: reset period must be positive", ErrInvalidPolicy)
	}
	return nil
}

// FreeTotalFor returns the free allowance for identities of the given kind.
func (p Policy) FreeTotalFor(kind identity.Kind) int {
	if kind == identity.KindAuthenticated {
		return p.FreeTotalAuthenticated
	}
	return p.FreeTotalAnonymous
}

// Init fills a never-persisted record with the default allotment.
// It is a no-op for stored records.
func (p Policy) Init(rec *Record, now time.Time) {
	if !rec.IsNew() {
		return
	}
	if rec.Plan == "" {
		rec.Plan = PlanNone
	}
	rec.FreeTotal = p.FreeTotalFor(rec.Key.Kind())
	rec.PeriodStart = now
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
}

// Evaluation is the outcome of Policy.Evaluate.
type Evaluation struct {
	ResetRequired bool
	Available     bool
	Source        Source
	// Record is the input record with any reset applied.
	Record Record
}

// Evaluate decides whether rec allows one more check at now.
//
// Unlimited records are always available and never modified. Otherwise a
// record whose window is at least one reset period old is reset once
// (usage to zero, window restarting at now) no matter how many periods have
// passed. The free allowance is drawn before purchased credits.
func (p Policy) Evaluate(rec Record, now time.Time) Evaluation {
	if rec.Unlimited {
		return Evaluation{Available: true, Source: SourceUnlimited, Record: rec}
	}

	ev := Evaluation{Record: rec}
	if rec.PeriodStart.IsZero() || now.Sub(rec.PeriodStart) >= p.ResetPeriod {
		ev.ResetRequired = true
		ev.Record.FreeUsed = 0
		ev.Record.PeriodStart = now
		ev.Record.FreeTotal = p.FreeTotalFor(rec.Key.Kind())
	}
	// A lowered allowance must not leave usage above the total.
	if ev.Record.FreeUsed > ev.Record.FreeTotal {
		ev.Record.FreeUsed = ev.Record.FreeTotal
	}
	if ev.Record.FreeUsed < 0 {
		ev.Record.FreeUsed = 0
	}

	switch {
	case ev.Record.FreeRemaining() > 0:
		ev.Available, ev.Source = true, SourceFree
	case ev.Record.Credits > 0:
		ev.Available, ev.Source = true, SourceCredit
	}
	return ev
}

// consume draws one unit from source.
func consume(rec *Record, source Source) {
	switch source {
	case SourceFree:
		rec.FreeUsed++
	case SourceCredit:
		rec.Credits--
	}
}
