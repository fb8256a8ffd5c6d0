package entitlement

import (
	"context"

	"github.com/dmitrymomot/verdict/pkg/identity"
)

// Mutator changes a record in place. Returning an error aborts the write;
// returning ErrNoChange skips it without failing the call, and the store
// returns the record as loaded.
//
// Optimistic stores may invoke a Mutator several times for one call, each
// time with a freshly loaded record, so it must derive everything from its
// argument.
type Mutator func(rec *Record) error

// Store persists entitlement records and the processed-event log.
type Store interface {
	// Get returns the record for key or ErrRecordNotFound.
	Get(ctx context.Context, key identity.Key) (Record, error)

	// Update loads the record for key (a new zero-version record keyed by key
	// when absent), applies fn and stores the result atomically with respect
	// to every other Update and ApplyOnce on the same key. The stored
	// record, with Version incremented, is returned.
	Update(ctx context.Context, key identity.Key, fn Mutator) (Record, error)

	// ApplyOnce behaves like Update and additionally records eventID in the
	// same atomic write. If eventID is already recorded fn is not called and
	// ErrDuplicateEvent is returned.
	ApplyOnce(ctx context.Context, eventID string, key identity.Key, fn Mutator) (Record, error)

	// Processed reports whether eventID has been recorded.
	Processed(ctx context.Context, eventID string) (bool, error)

	// Delete removes the record for key. Deleting a missing record is not an error.
	Delete(ctx context.Context, key identity.Key) error
}
