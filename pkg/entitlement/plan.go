package entitlement

import (
	"fmt"
	"slices"
	"time"
)

// planTransitions lists the plan changes a payment event may cause.
// Renewals of the same subscription plan are allowed.
var planTransitions = map[Plan][]Plan{
	PlanNone:      {PlanPayPerUse, PlanMonthly, PlanYearly},
	PlanPayPerUse: {PlanPayPerUse, PlanMonthly, PlanYearly, PlanNone},
	PlanMonthly:   {PlanMonthly, PlanYearly, PlanPayPerUse, PlanNone},
	PlanYearly:    {PlanYearly, PlanMonthly, PlanPayPerUse, PlanNone},
}

// CanTransition reports whether a record on plan from may move to plan to.
func CanTransition(from, to Plan) bool {
	if from == "" {
		from = PlanNone
	}
	return slices.Contains(planTransitions[from], to)
}

func transition(rec *Record, to Plan) error {
	if !CanTransition(rec.Plan, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Plan, to)
	}
	rec.Plan = to
	rec.Unlimited = to.Unlimited()
	return nil
}

// guardStale rejects subscription events that happened before the last
// recorded plan change, so a late redelivery cannot undo a newer state.
func guardStale(rec *Record, occurredAt time.Time) error {
	if !occurredAt.IsZero() && !rec.PlanChangedAt.IsZero() && occurredAt.Before(rec.PlanChangedAt) {
		return ErrStaleEvent
	}
	return nil
}

// activate moves rec onto an unlimited subscription plan.
func activate(rec *Record, plan Plan, occurredAt, now time.Time) error {
	if !plan.Unlimited() {
		return fmt.Errorf("%w: %s is not a subscription plan", ErrInvalidTransition, plan)
	}
	if err := guardStale(rec, occurredAt); err != nil {
		return err
	}
	if err := transition(rec, plan); err != nil {
		return err
	}
	rec.PlanChangedAt = eventTime(occurredAt, now)
	return nil
}

// lapse ends an unlimited subscription. The record falls back to pay-per-use
// when purchased credits remain and to no plan otherwise. Lapsing a record
// without a subscription leaves it unchanged.
func lapse(rec *Record, occurredAt, now time.Time) error {
	if err := guardStale(rec, occurredAt); err != nil {
		return err
	}
	if !rec.Plan.Unlimited() {
		rec.Unlimited = false
		return nil
	}
	next := PlanNone
	if rec.Credits > 0 {
		next = PlanPayPerUse
	}
	if err := transition(rec, next); err != nil {
		return err
	}
	rec.PlanChangedAt = eventTime(occurredAt, now)
	return nil
}

// credit adds purchased credits. A record without a plan becomes pay-per-use;
// subscribers keep their plan and the credits wait until it lapses.
func credit(rec *Record, credits int) error {
	if credits <= 0 {
		return ErrInvalidCredits
	}
	rec.Credits += credits
	if rec.Plan == PlanNone || rec.Plan == "" {
		return transition(rec, PlanPayPerUse)
	}
	return nil
}

func eventTime(occurredAt, now time.Time) time.Time {
	if occurredAt.IsZero() {
		return now
	}
	return occurredAt
}
