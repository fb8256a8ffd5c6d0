// Package sqlitestore keeps entitlement records in a local SQLite file.
//
// It suits single-instance deployments and development. The pool is limited
// to one connection and writes take the database lock up front, so writes on
// every key are serialised.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dmitrymomot/verdict/pkg/entitlement"
	"github.com/dmitrymomot/verdict/pkg/identity"
)

const schema = `
CREATE TABLE IF NOT EXISTS entitlements (
	key             TEXT PRIMARY KEY,
	plan            TEXT NOT NULL DEFAULT 'none',
	free_used       INTEGER NOT NULL DEFAULT 0,
	free_total      INTEGER NOT NULL DEFAULT 0,
	period_start    INTEGER,
	credits         INTEGER NOT NULL DEFAULT 0,
	unlimited       INTEGER NOT NULL DEFAULT 0,
	plan_changed_at INTEGER,
	created_at      INTEGER,
	updated_at      INTEGER,
	version         INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS processed_events (
	event_id        TEXT PRIMARY KEY,
	entitlement_key TEXT NOT NULL,
	processed_at    INTEGER NOT NULL
);
`

const columns = `key, plan, free_used, free_total, period_start, credits, unlimited,
	plan_changed_at, created_at, updated_at, version`

// Store implements entitlement.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ entitlement.Store = (*Store)(nil)

// Open opens (or creates) the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	path = filepath.Clean(path)
	if strings.TrimSpace(path) == "" || path == "." {
		return nil, errors.New("sqlitestore: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("sqlitestore: create dir: %w", err)
	}

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(10000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
		"_txlock": []string{"immediate"},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, errors.Join(err, closeErr)
		}
		return nil, fmt.Errorf("sqlitestore: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Healthcheck pings the database.
func (s *Store) Healthcheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Get(ctx context.Context, key identity.Key) (entitlement.Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM entitlements WHERE key = ?`, key.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entitlement.Record{}, entitlement.ErrRecordNotFound
		}
		return entitlement.Record{}, errors.Join(entitlement.ErrStoreUnavailable, err)
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
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM processed_events WHERE event_id = ?`, eventID).Scan(&n)
	if err != nil {
		return false, errors.Join(entitlement.ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

func (s *Store) Delete(ctx context.Context, key identity.Key) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entitlements WHERE key = ?`, key.String()); err != nil {
		return errors.Join(entitlement.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) write(ctx context.Context, eventID string, key identity.Key, fn entitlement.Mutator) (out entitlement.Record, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return entitlement.Record{}, errors.Join(entitlement.ErrStoreUnavailable, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if eventID != "" {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO processed_events (event_id, entitlement_key, processed_at)
			VALUES (?, ?, ?) ON CONFLICT (event_id) DO NOTHING`,
			eventID, key.String(), time.Now().UnixMicro(),
		)
		if err != nil {
			return entitlement.Record{}, errors.Join(entitlement.ErrStoreUnavailable, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return entitlement.Record{}, entitlement.ErrDuplicateEvent
		}
	}

	rec, err := scanRecord(tx.QueryRowContext(ctx,
		`SELECT `+columns+` FROM entitlements WHERE key = ?`, key.String()))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		rec = entitlement.Record{Key: key}
	case err != nil:
		return entitlement.Record{}, errors.Join(entitlement.ErrStoreUnavailable, err)
	}

	loaded := rec
	if err := fn(&rec); err != nil {
		if !errors.Is(err, entitlement.ErrNoChange) {
			return entitlement.Record{}, err
		}
		rec = loaded
	} else {
		rec.Key = key
		rec.Version = loaded.Version + 1
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entitlements (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET
				plan = excluded.plan, free_used = excluded.free_used,
				free_total = excluded.free_total, period_start = excluded.period_start,
				credits = excluded.credits, unlimited = excluded.unlimited,
				plan_changed_at = excluded.plan_changed_at, created_at = excluded.created_at,
				updated_at = excluded.updated_at, version = excluded.version`,
			args(rec)...,
		); err != nil {
			return entitlement.Record{}, errors.Join(entitlement.ErrStoreUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return entitlement.Record{}, errors.Join(entitlement.ErrStoreUnavailable, err)
	}
	return rec, nil
}

func args(rec entitlement.Record) []any {
	return []any{
		rec.Key.String(),
		string(rec.Plan),
		rec.FreeUsed,
		rec.FreeTotal,
		micros(rec.PeriodStart),
		rec.Credits,
		rec.Unlimited,
		micros(rec.PlanChangedAt),
		micros(rec.CreatedAt),
		micros(rec.UpdatedAt),
		rec.Version,
	}
}

func scanRecord(row *sql.Row) (entitlement.Record, error) {
	var (
		rec                                      entitlement.Record
		key, plan                                string
		periodStart, changedAt, created, updated sql.NullInt64
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
	rec.PeriodStart = fromMicros(periodStart)
	rec.PlanChangedAt = fromMicros(changedAt)
	rec.CreatedAt = fromMicros(created)
	rec.UpdatedAt = fromMicros(updated)
	return rec, nil
}

func micros(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}

func fromMicros(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMicro(v.Int64).UTC()
}
