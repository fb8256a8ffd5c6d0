// Package storetest holds the behavioural suite every entitlement.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/verdict/pkg/entitlement"
	"github.com/dmitrymomot/verdict/pkg/identity"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) entitlement.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("get missing record", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), key("missing"))
		require.ErrorIs(t, err, entitlement.ErrRecordNotFound)
	})

	t.Run("update creates record lazily", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("lazy")
		now := time.Now().UTC().Truncate(time.Microsecond)

		rec, err := s.Update(ctx, k, func(r *entitlement.Record) error {
			assert.True(t, r.IsNew())
			assert.Equal(t, k, r.Key)
			r.Plan = entitlement.PlanNone
			r.FreeTotal = 3
			r.PeriodStart = now
			r.CreatedAt = now
			r.UpdatedAt = now
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), rec.Version)

		got, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, 3, got.FreeTotal)
		assert.Equal(t, entitlement.PlanNone, got.Plan)
		assert.True(t, now.Equal(got.PeriodStart), "period start round-trips")
		assert.True(t, now.Equal(got.UpdatedAt), "updated at round-trips")
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("all fields round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := identity.Authenticated(fmt.Sprintf("acc-rt-%d", time.Now().UnixNano()), "").Key()
		now := time.Now().UTC().Truncate(time.Microsecond)

		_, err := s.Update(ctx, k, func(r *entitlement.Record) error {
			r.Plan = entitlement.PlanYearly
			r.FreeUsed = 2
			r.FreeTotal = 5
			r.PeriodStart = now.Add(-time.Hour)
			r.Credits = 15
			r.Unlimited = true
			r.PlanChangedAt = now.Add(-time.Minute)
			r.CreatedAt = now.Add(-24 * time.Hour)
			r.UpdatedAt = now
			return nil
		})
		require.NoError(t, err)

		got, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, entitlement.PlanYearly, got.Plan)
		assert.Equal(t, 2, got.FreeUsed)
		assert.Equal(t, 5, got.FreeTotal)
		assert.Equal(t, 15, got.Credits)
		assert.True(t, got.Unlimited)
		assert.True(t, now.Add(-time.Hour).Equal(got.PeriodStart))
		assert.True(t, now.Add(-time.Minute).Equal(got.PlanChangedAt))
		assert.True(t, now.Add(-24*time.Hour).Equal(got.CreatedAt))
	})

	t.Run("mutator error aborts write", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("abort")
		boom := errors.New("boom")

		_, err := s.Update(ctx, k, func(r *entitlement.Record) error {
			r.Credits = 100
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = s.Get(ctx, k)
		require.ErrorIs(t, err, entitlement.ErrRecordNotFound)
	})

	t.Run("no change skips write", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("nochange")
		_, err := s.Update(ctx, k, func(r *entitlement.Record) error { r.Credits = 1; return nil })
		require.NoError(t, err)

		rec, err := s.Update(ctx, k, func(r *entitlement.Record) error {
			return entitlement.ErrNoChange
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), rec.Version)
		assert.Equal(t, 1, rec.Credits)
	})

	t.Run("concurrent updates do not lose writes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("counter")
		const workers = 20

		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- retryConflicts(func() error {
					_, err := s.Update(ctx, k, func(r *entitlement.Record) error {
						r.Credits++
						return nil
					})
					return err
				})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, workers, got.Credits)
		assert.Equal(t, int64(workers), got.Version)
	})

	t.Run("apply once records event", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("payer")
		add := func(r *entitlement.Record) error { r.Credits += 15; return nil }
		evt := eventID("evt_once")

		done, err := s.Processed(ctx, evt)
		require.NoError(t, err)
		assert.False(t, done)

		rec, err := s.ApplyOnce(ctx, evt, k, add)
		require.NoError(t, err)
		assert.Equal(t, 15, rec.Credits)

		_, err = s.ApplyOnce(ctx, evt, k, add)
		require.ErrorIs(t, err, entitlement.ErrDuplicateEvent)

		done, err = s.Processed(ctx, evt)
		require.NoError(t, err)
		assert.True(t, done)

		got, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, 15, got.Credits)
	})

	t.Run("failed apply does not record event", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("failed-payer")
		evt := eventID("evt_fail")

		_, err := s.ApplyOnce(ctx, evt, k, func(r *entitlement.Record) error {
			return entitlement.ErrInvalidCredits
		})
		require.ErrorIs(t, err, entitlement.ErrInvalidCredits)

		done, err := s.Processed(ctx, evt)
		require.NoError(t, err)
		assert.False(t, done)

		_, err = s.ApplyOnce(ctx, evt, k, func(r *entitlement.Record) error { r.Credits = 1; return nil })
		require.NoError(t, err)
	})

	t.Run("concurrent duplicate deliveries apply once", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("racer")
		evt := eventID("evt_race")
		const deliveries = 10

		var wg sync.WaitGroup
		results := make(chan error, deliveries)
		for range deliveries {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- retryConflicts(func() error {
					_, err := s.ApplyOnce(ctx, evt, k, func(r *entitlement.Record) error {
						r.Credits += 15
						return nil
					})
					return err
				})
			}()
		}
		wg.Wait()
		close(results)

		applied := 0
		for err := range results {
			if err == nil {
				applied++
				continue
			}
			require.ErrorIs(t, err, entitlement.ErrDuplicateEvent)
		}
		assert.Equal(t, 1, applied)

		got, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, 15, got.Credits)
	})

	t.Run("delete removes record", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("gone")
		_, err := s.Update(ctx, k, func(r *entitlement.Record) error { r.Credits = 3; return nil })
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, k))
		_, err = s.Get(ctx, k)
		require.ErrorIs(t, err, entitlement.ErrRecordNotFound)
		require.NoError(t, s.Delete(ctx, k))
	})

	t.Run("keys are isolated", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Update(ctx, key("a"), func(r *entitlement.Record) error { r.Credits = 7; return nil })
		require.NoError(t, err)
		_, err = s.Get(ctx, key("b"))
		require.ErrorIs(t, err, entitlement.ErrRecordNotFound)
	})
}

var keySeq struct {
	mu sync.Mutex
	n  int
}

// key returns a key unique to this process run so suites against shared
// backends do not collide.
func key(name string) identity.Key {
	keySeq.mu.Lock()
	keySeq.n++
	n := keySeq.n
	keySeq.mu.Unlock()
	return identity.Anonymous(fmt.Sprintf("%s-%d-%d", name, time.Now().UnixNano(), n)).Key()
}

func eventID(name string) string {
	return string(key(name))
}

// retryConflicts mirrors the bounded retry of entitlement.Service so that
// optimistic stores can be exercised directly.
func retryConflicts(call func() error) error {
	var err error
	for range 50 {
		if err = call(); !errors.Is(err, entitlement.ErrConflict) {
			return err
		}
		time.Sleep(time.Millisecond)
	}
	return err
}
