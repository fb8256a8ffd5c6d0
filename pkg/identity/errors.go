package identity

import "errors"

var (
	ErrMissingAccountID   = errors.New("identity: authenticated identity without account id")
	ErrMissingFingerprint = errors.New("identity: anonymous identity without fingerprint")
	ErrUnknownKind        = errors.New("identity: unknown identity kind")
	ErrInvalidSession     = errors.New("identity: invalid session token")
	ErrMissingSigningKey  = errors.New("identity: missing session signing key")
	ErrNoSession          = errors.New("identity: no session token")
)
