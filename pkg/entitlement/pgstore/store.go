// Package pgstore keeps entitlement records in Postgres.
//
// Every write runs in its own transaction holding a row lock on the record,
// so concurrent writers on one key are serialised by the database. The
// processed_events row of ApplyOnce is inserted in that same transaction.
package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/verdict/pkg/entitlement"
	"github.com/dmitrymomot/verdict/pkg/identity"
	"github.com/dmitrymomot/verdict/pkg/pg"
)

const columns = `key, plan, free_used, free_total, period_start, credits, unlimited,
	plan_changed_at, created_at, updated_at, version`

// Store implements entitlement.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ entitlement.Store = (*Store)(nil)

// New returns a Store using pool. The schema from the migrations package must
// already be applied.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Get(ctx context.Context, key identity.Key) (entitlement.Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+columns+` FROM entitlements WHERE key = $1`, key.String())
	rec, err := scanRecord(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return entitlement.Record{}, entitlement.ErrRecordNotFound
		}
		return entitlement.Record{}, storeErr(err)
	}
	return rec, nil
}

func (s *Store) Update(ctx context.Context, key identity.Key, fn entitlement.Mutator) (entitlement.Record, error) {
	return s.write(ctx, "", key, fn)
}

func (s *Store) ApplyOnce(ctx context.Context, eventID string, key identity.Key, fn entitlement.Mutator) (entitlement.Record, error) {
	return s.write(ctx, eventID, key, fn)
}

func (s *Store) Processed(ctx context.Context, eventID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID,
	).Scan(&ok)
	if err != nil {
		return false, storeErr(err)
	}
	return ok, nil
}

// Delete removes the record. Processed events are kept so a redelivered
// payment for a deleted account is still recognised.
func (s *Store) Delete(ctx context.Context, key identity.Key) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM entitlements WHERE key = $1`, key.String()); err != nil {
		return storeErr(err)
	}
	return nil
}

func (s *Store) write(ctx context.Context, eventID string, key identity.Key, fn entitlement.Mutator) (entitlement.Record, error) {
	var out entitlement.Record
	err := pg.WithTx(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if eventID != "" {
			tag, err := tx.Exec(ctx,
				`INSERT INTO processed_events (event_id, entitlement_key) VALUES ($1, $2)
				ON CONFLICT (event_id) DO NOTHING`,
				eventID, key.String(),
			)
			if err != nil {
				return storeErr(err)
			}
			if tag.RowsAffected() == 0 {
				return entitlement.ErrDuplicateEvent
			}
		}

		rec, err := scanRecord(tx.QueryRow(ctx,
			`SELECT `+columns+` FROM entitlements WHERE key = $1 FOR UPDATE`, key.String()))
		switch {
		case pg.IsNotFoundError(err):
			rec = entitlement.Record{Key: key}
		case err != nil:
			return storeErr(err)
		}

		loaded := rec
		if err := fn(&rec); err != nil {
			if errors.Is(err, entitlement.ErrNoChange) {
				// Commit so an event id reserved above is kept.
				out = loaded
				return nil
			}
			return err
		}
		rec.Key = key
		rec.Version = loaded.Version + 1

		if loaded.IsNew() {
			return insert(ctx, tx, rec, &out)
		}
		return update(ctx, tx, rec, loaded.Version, &out)
	})
	if err != nil {
		return entitlement.Record{}, err
	}
	return out, nil
}

// insert creates a record. A concurrent creator wins the primary key, which
// surfaces as ErrConflict so the caller reloads and retries.
func insert(ctx context.Context, tx pgx.Tx, rec entitlement.Record, out *entitlement.Record) error {
	tag, err := tx.Exec(ctx,
		`INSERT INTO entitlements (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (key) DO NOTHING`,
		args(rec)...,
	)
	if err != nil {
		return storeErr(err)
	}
	if tag.RowsAffected() == 0 {
		return entitlement.ErrConflict
	}
	*out = rec
	return nil
}

func update(ctx context.Context, tx pgx.Tx, rec entitlement.Record, prev int64, out *entitlement.Record) error {
	tag, err := tx.Exec(ctx,
		`UPDATE entitlements SET plan = $2, free_used = $3, free_total = $4, period_start = $5,
			credits = $6, unlimited = $7, plan_changed_at = $8, created_at = $9,
			updated_at = $10, version = $11
		WHERE key = $1 AND version = $12`,
		append(args(rec), prev)...,
	)
	if err != nil {
		return storeErr(err)
	}
	if tag.RowsAffected() == 0 {
		return entitlement.ErrConflict
	}
	*out = rec
	return nil
}

func args(rec entitlement.Record) []any {
	return []any{
		rec.Key.String(),
		string(rec.Plan),
		rec.FreeUsed,
		rec.FreeTotal,
		timestamptz(rec.PeriodStart),
		rec.Credits,
		rec.Unlimited,
		timestamptz(rec.PlanChangedAt),
		timestamptz(rec.CreatedAt),
		timestamptz(rec.UpdatedAt),
		rec.Version,
	}
}

func scanRecord(row pgx.Row) (entitlement.Record, error) {
	var (
		rec                                      entitlement.Record
		key, plan                                string
		periodStart, changedAt, created, updated pgtype.Timestamptz
	)
	err := row.Scan(
		&key, &plan, &rec.FreeUsed, &rec.FreeTotal, &periodStart, &rec.Credits,
		&rec.Unlimited, &changedAt, &created, &updated, &rec.Version,
	)
	if err != nil {
		return entitlement.Record{}, err
	}
	rec.Key = identity.Key(key)
	rec.Plan = entitlement.Plan(plan)
	rec.PeriodStart = fromTimestamptz(periodStart)
	rec.PlanChangedAt = fromTimestamptz(changedAt)
	rec.CreatedAt = fromTimestamptz(created)
	rec.UpdatedAt = fromTimestamptz(updated)
	return rec, nil
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

func fromTimestamptz(ts pgtype.Timestamptz) time.Time {
	if !ts.Valid {
		return time.Time{}
	}
	return ts.Time.UTC()
}

// storeErr classifies a database error for the service: transient
// concurrency failures become ErrConflict, the rest ErrStoreUnavailable.
func storeErr(err error) error {
	if pg.IsConflictError(err) || pg.IsDuplicateKeyError(err) {
		return errors.Join(entitlement.ErrConflict, err)
	}
	return errors.Join(entitlement.ErrStoreUnavailable, err)
}
