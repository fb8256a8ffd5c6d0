package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/verdict/pkg/identity"
	"github.com/dmitrymomot/verdict/pkg/logger"
)

// Grant is the outcome of TryConsume. A denied grant has Granted false and
// carries the balance that caused the denial.
type Grant struct {
	Granted bool         `json:"granted"`
	Source  Source       `json:"source,omitempty"`
	CheckID string       `json:"check_id,omitempty"`
	Key     identity.Key `json:"-"`
	Balance Balance      `json:"balance"`
	// periodStart identifies the free window the unit was drawn from.
	periodStart time.Time
}

// Service coordinates every mutation of entitlement records.
type Service struct {
	store       Store
	policy      Policy
	now         func() time.Time
	log         *slog.Logger
	obs         Observer
	maxAttempts int
}

// NewService returns a Service on top of store. It panics on a nil store or an
// invalid policy since neither can be recovered from at runtime.
func NewService(store Store, opts ...ServiceOption) *Service {
	if store == nil {
		panic("entitlement: store is required")
	}
	s := &Service{
		store:       store,
		policy:      DefaultPolicy(),
		now:         time.Now,
		log:         logger.Discard(),
		obs:         noopObserver{},
		maxAttempts: 5,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.policy.Validate(); err != nil {
		panic(err)
	}
	return s
}

// Policy returns the active policy.
func (s *Service) Policy() Policy { return s.policy }

// clock returns the current time at the precision every store can round-trip.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Check returns the balance of id, persisting a due reset first so callers
// always see post-reset numbers. First observation creates the record.
func (s *Service) Check(ctx context.Context, id identity.Identity) (Balance, error) {
	if err := id.Validate(); err != nil {
		return Balance{}, err
	}
	key := id.Key()

	var reset bool
	rec, err := s.update(ctx, "check", key, func(rec *Record) error {
		now := s.clock()
		created := rec.IsNew()
		s.policy.Init(rec, now)

		ev := s.policy.Evaluate(*rec, now)
		reset = ev.ResetRequired && !created
		if !created && !ev.ResetRequired && ev.Record == *rec {
			return ErrNoChange
		}
		*rec = ev.Record
		rec.touch(now)
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	if reset {
		s.obs.WindowReset()
	}
	return s.policy.BalanceOf(rec), nil
}

// TryConsume atomically takes one unit from the bucket the policy selects.
//
// A denial is not an error: the returned grant has Granted false. Any store
// failure yields a denied grant together with the error, and nothing is
// recorded.
func (s *Service) TryConsume(ctx context.Context, id identity.Identity) (Grant, error) {
	if err := id.Validate(); err != nil {
		return Grant{}, err
	}
	key := id.Key()

	var ev Evaluation
	rec, err := s.update(ctx, "consume", key, func(rec *Record) error {
		now := s.clock()
		created := rec.IsNew()
		s.policy.Init(rec, now)

		ev = s.policy.Evaluate(*rec, now)
		if !ev.Available {
			if created || ev.ResetRequired {
				*rec = ev.Record
				rec.touch(now)
				return nil
			}
			return ErrNoChange
		}
		if ev.Source == SourceUnlimited {
			// Unlimited checks leave the record untouched.
			return ErrNoChange
		}
		*rec = ev.Record
		consume(rec, ev.Source)
		rec.touch(now)
		return nil
	})
	if err != nil {
		s.log.ErrorContext(ctx, "consume failed, denying check",
			logger.Component("entitlement"),
			logger.Identity(key.String()),
			logger.Error(err),
		)
		return Grant{Key: key}, err
	}

	if ev.ResetRequired && !rec.IsNew() {
		s.obs.WindowReset()
	}
	s.obs.ConsumeDecided(ev.Source, ev.Available)

	grant := Grant{
		Granted: ev.Available,
		Key:     key,
		Balance: s.policy.BalanceOf(rec),
	}
	if ev.Available {
		grant.Source = ev.Source
		grant.CheckID = uuid.NewString()
		grant.periodStart = rec.PeriodStart
	}
	return grant, nil
}

// Refund returns the unit consumed by g. It is idempotent per check id.
// Free units are only returned while the window they came from is still
// open; after a reset the allowance is full anyway and nothing is written.
func (s *Service) Refund(ctx context.Context, g Grant) error {
	if !g.Granted || g.Source == SourceUnlimited || g.CheckID == "" {
		return nil
	}
	var restored bool
	_, err := s.applyOnce(ctx, "refund", "refund:"+g.CheckID, g.Key, func(rec *Record) error {
		restored = false
		if rec.IsNew() {
			// The record was deleted after the check; nothing to give back.
			return ErrNoChange
		}
		switch g.Source {
		case SourceFree:
			if !rec.PeriodStart.Equal(g.periodStart) || rec.FreeUsed == 0 {
				return ErrNoChange
			}
			rec.FreeUsed--
		case SourceCredit:
			rec.Credits++
		default:
			return ErrNoChange
		}
		restored = true
		rec.touch(s.clock())
		return nil
	})
	if errors.Is(err, ErrDuplicateEvent) {
		return nil
	}
	if err != nil {
		return err
	}
	if restored {
		s.obs.Refunded(g.Source)
	} else {
		s.log.DebugContext(ctx, "refund dropped, unit no longer owed",
			logger.Component("entitlement"),
			logger.Identity(g.Key.String()),
			logger.CheckID(g.CheckID),
		)
	}
	return nil
}

// Credit adds purchased credits for a payment event.
func (s *Service) Credit(ctx context.Context, eventID string, key identity.Key, credits int) (Balance, error) {
	if credits <= 0 {
		return Balance{}, ErrInvalidCredits
	}
	rec, err := s.applyOnce(ctx, "credit", eventID, key, func(rec *Record) error {
		now := s.clock()
		s.policy.Init(rec, now)
		if err := credit(rec, credits); err != nil {
			return err
		}
		rec.touch(now)
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	s.obs.CreditsAdded(credits)
	return s.policy.BalanceOf(rec), nil
}

// Activate moves key onto an unlimited subscription plan.
func (s *Service) Activate(ctx context.Context, eventID string, key identity.Key, plan Plan, occurredAt time.Time) (Balance, error) {
	rec, err := s.applyOnce(ctx, "activate", eventID, key, func(rec *Record) error {
		now := s.clock()
		s.policy.Init(rec, now)
		if err := activate(rec, plan, occurredAt, now); err != nil {
			return err
		}
		rec.touch(now)
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	s.obs.PlanChanged(rec.Plan)
	return s.policy.BalanceOf(rec), nil
}

// Lapse ends the subscription of key.
func (s *Service) Lapse(ctx context.Context, eventID string, key identity.Key, occurredAt time.Time) (Balance, error) {
	rec, err := s.applyOnce(ctx, "lapse", eventID, key, func(rec *Record) error {
		now := s.clock()
		s.policy.Init(rec, now)
		if err := lapse(rec, occurredAt, now); err != nil {
			return err
		}
		rec.touch(now)
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	s.obs.PlanChanged(rec.Plan)
	return s.policy.BalanceOf(rec), nil
}

// Processed reports whether a payment event was already applied.
func (s *Service) Processed(ctx context.Context, eventID string) (bool, error) {
	ok, err := s.store.Processed(ctx, eventID)
	if err != nil {
		return false, errors.Join(ErrStoreUnavailable, err)
	}
	return ok, nil
}

// Delete removes the record of key, for account deletion.
func (s *Service) Delete(ctx context.Context, key identity.Key) error {
	if err := s.store.Delete(ctx, key); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Service) update(ctx context.Context, op string, key identity.Key, fn Mutator) (Record, error) {
	return s.retry(ctx, op, key, func() (Record, error) {
		return s.store.Update(ctx, key, fn)
	})
}

func (s *Service) applyOnce(ctx context.Context, op, eventID string, key identity.Key, fn Mutator) (Record, error) {
	if eventID == "" {
		return Record{}, fmt.Errorf("entitlement: %s requires an event id", op)
	}
	return s.retry(ctx, op, key, func() (Record, error) {
		return s.store.ApplyOnce(ctx, eventID, key, fn)
	})
}

// retry repeats call while it reports ErrConflict, up to maxAttempts.
func (s *Service) retry(ctx context.Context, op string, key identity.Key, call func() (Record, error)) (Record, error) {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		var rec Record
		rec, err = call()
		if err == nil || !errors.Is(err, ErrConflict) {
			return rec, err
		}
		s.obs.ConflictRetried(op)
		s.log.DebugContext(ctx, "write conflict, retrying",
			logger.Component("entitlement"),
			logger.Identity(key.String()),
			logger.Attempt(attempt),
			slog.String("op", op),
		)
		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * 2 * time.Millisecond):
		}
	}
	return Record{}, err
}
