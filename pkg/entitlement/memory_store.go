package entitlement

import (
	"context"
	"errors"
	"sync"

	"github.com/dmitrymomot/verdict/pkg/identity"
)

// MemoryStore keeps records in process memory. Writes for one key are
// serialized by a per-key mutex; different keys proceed in parallel.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[identity.Key]*memoryEntry

	eventsMu sync.Mutex
	events   map[string]struct{}
}

type memoryEntry struct {
	mu     sync.Mutex
	rec    Record
	exists bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[identity.Key]*memoryEntry),
		events:  make(map[string]struct{}),
	}
}

func (s *MemoryStore) entry(key identity.Key) *memoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &memoryEntry{}
		s.entries[key] = e
	}
	return e
}

func (s *MemoryStore) Get(ctx context.Context, key identity.Key) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.exists {
		return Record{}, ErrRecordNotFound
	}
	return e.rec, nil
}

func (s *MemoryStore) Update(ctx context.Context, key identity.Key, fn Mutator) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.apply(key, fn)
}

func (s *MemoryStore) ApplyOnce(ctx context.Context, eventID string, key identity.Key, fn Mutator) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	s.eventsMu.Lock()
	if _, seen := s.events[eventID]; seen {
		s.eventsMu.Unlock()
		return Record{}, ErrDuplicateEvent
	}
	s.events[eventID] = struct{}{}
	s.eventsMu.Unlock()

	rec, err := e.apply(key, fn)
	if err != nil {
		s.eventsMu.Lock()
		delete(s.events, eventID)
		s.eventsMu.Unlock()
	}
	return rec, err
}

func (s *MemoryStore) Processed(ctx context.Context, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	_, ok := s.events[eventID]
	return ok, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key identity.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec, e.exists = Record{}, false
	return nil
}

// apply runs fn on a copy so a failed mutation leaves the entry untouched.
// The caller holds e.mu.
func (e *memoryEntry) apply(key identity.Key, fn Mutator) (Record, error) {
	rec := e.rec
	if !e.exists {
		rec = Record{Key: key}
	}
	loaded := rec
	if err := fn(&rec); err != nil {
		if errors.Is(err, ErrNoChange) {
			return loaded, nil
		}
		return Record{}, err
	}
	rec.Key = key
	rec.Version++
	e.rec, e.exists = rec, true
	return rec, nil
}
