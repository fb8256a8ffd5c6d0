// Package redisstore keeps entitlement records in Redis as JSON documents.
//
// Writes use optimistic locking: the record key (and the event key for
// ApplyOnce) is watched, the mutation is computed client side and committed
// with MULTI/EXEC. A concurrent write aborts the transaction, which is
// retried a few times before ErrConflict is reported.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/verdict/pkg/entitlement"
	"github.com/dmitrymomot/verdict/pkg/identity"
)

// Store implements entitlement.Store on a Redis client.
type Store struct {
	client   redis.UniversalClient
	prefix   string
	eventTTL time.Duration
	attempts int
}

var _ entitlement.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPrefix namespaces every key. Defaults to "verdict".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithEventTTL expires processed-event markers after ttl. Zero keeps them
// forever, which is the default.
func WithEventTTL(ttl time.Duration) Option {
	return func(s *Store) { s.eventTTL = ttl }
}

// WithAttempts sets how many optimistic transactions are tried per write.
func WithAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.attempts = n
		}
	}
}

func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: "verdict", attempts: 3}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) recordKey(key identity.Key) string { return s.prefix + ":ent:" + key.String() }
func (s *Store) eventKey(id string) string         { return s.prefix + ":evt:" + id }

func (s *Store) Get(ctx context.Context, key identity.Key) (entitlement.Record, error) {
	return load(ctx, s.client, s.recordKey(key))
}

func (s *Store) Update(ctx context.Context, key identity.Key, fn entitlement.Mutator) (entitlement.Record, error) {
	return s.write(ctx, "", key, fn)
}

func (s *Store) ApplyOnce(ctx context.Context, eventID string, key identity.Key, fn entitlement.Mutator) (entitlement.Record, error) {
	return s.write(ctx, eventID, key, fn)
}

func (s *Store) Processed(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.eventKey(eventID)).Result()
	if err != nil {
		return false, errors.Join(entitlement.ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

func (s *Store) Delete(ctx context.Context, key identity.Key) error {
	if err := s.client.Del(ctx, s.recordKey(key)).Err(); err != nil {
		return errors.Join(entitlement.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) write(ctx context.Context, eventID string, key identity.Key, fn entitlement.Mutator) (entitlement.Record, error) {
	recKey := s.recordKey(key)
	watched := []string{recKey}
	var evtKey string
	if eventID != "" {
		evtKey = s.eventKey(eventID)
		watched = append(watched, evtKey)
	}

	var out entitlement.Record
	txf := func(tx *redis.Tx) error {
		if evtKey != "" {
			n, err := tx.Exists(ctx, evtKey).Result()
			if err != nil {
				return errors.Join(entitlement.ErrStoreUnavailable, err)
			}
			if n > 0 {
				return entitlement.ErrDuplicateEvent
			}
		}

		rec, err := load(ctx, tx, recKey)
		switch {
		case errors.Is(err, entitlement.ErrRecordNotFound):
			rec = entitlement.Record{Key: key}
		case err != nil:
			return err
		}

		loaded := rec
		changed := true
		if err := fn(&rec); err != nil {
			if !errors.Is(err, entitlement.ErrNoChange) {
				return err
			}
			rec, changed = loaded, false
		}
		if changed {
			rec.Key = key
			rec.Version = loaded.Version + 1
		}
		if !changed && evtKey == "" {
			out = rec
			return nil
		}

		var payload []byte
		if changed {
			if payload, err = json.Marshal(toDocument(rec)); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if changed {
				p.Set(ctx, recKey, payload, 0)
			}
			if evtKey != "" {
				p.Set(ctx, evtKey, key.String(), s.eventTTL)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = rec
		return nil
	}

	for range s.attempts {
		err := s.client.Watch(ctx, txf, watched...)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return entitlement.Record{}, err
		}
	}
	return entitlement.Record{}, entitlement.ErrConflict
}

// getter is the part of a client or transaction load needs.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func load(ctx context.Context, c getter, recKey string) (entitlement.Record, error) {
	raw, err := c.Get(ctx, recKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return entitlement.Record{}, entitlement.ErrRecordNotFound
		}
		return entitlement.Record{}, errors.Join(entitlement.ErrStoreUnavailable, err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return entitlement.Record{}, errors.Join(entitlement.ErrStoreUnavailable, err)
	}
	return doc.record(), nil
}
