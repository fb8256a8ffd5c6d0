package entitlement

import "errors"

var (
	// ErrRecordNotFound is returned by Store.Get for identities never observed.
	ErrRecordNotFound = errors.New("entitlement: record not found")
	// ErrDuplicateEvent is returned by Store.ApplyOnce when the event id was
	// already applied.
	ErrDuplicateEvent = errors.New("entitlement: event already processed")
	// ErrConflict signals a concurrent write collision. Service retries it a
	// bounded number of times before giving up.
	ErrConflict = errors.New("entitlement: concurrent update conflict")
	// ErrNoChange lets a Mutator tell the store there is nothing to persist.
	ErrNoChange = errors.New("entitlement: no change")
	// ErrStaleEvent marks a subscription event older than the last plan change.
	ErrStaleEvent = errors.New("entitlement: event is older than current plan state")
	// ErrInvalidTransition is returned for plan changes the lifecycle forbids.
	ErrInvalidTransition = errors.New("entitlement: invalid plan transition")
	// ErrInvalidCredits is returned when a credit amount is not positive.
	ErrInvalidCredits = errors.New("entitlement: credits must be positive")
	// ErrInvalidPolicy is returned by Policy.Validate.
	ErrInvalidPolicy = errors.New("entitlement: invalid policy")
	// ErrStoreUnavailable wraps infrastructure failures of the backing store.
	ErrStoreUnavailable = errors.New("entitlement: store unavailable")
)
