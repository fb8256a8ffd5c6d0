package identity

import (
	"strings"
)

// Kind tells how an identity was established.
type Kind string

const (
	KindAnonymous     Kind = "anonymous"
	KindAuthenticated Kind = "authenticated"
)

// Key is the stable storage key of an identity: "acct:<id>" or "anon:<fingerprint>".
type Key string

const (
	accountPrefix   = "acct:"
	anonymousPrefix = "anon:"
)

func (k Key) String() string { return string(k) }

// Kind reports the identity kind encoded in the key.
func (k Key) Kind() Kind {
	if strings.HasPrefix(string(k), accountPrefix) {
		return KindAuthenticated
	}
	return KindAnonymous
}

// Identity is the caller an entitlement decision is made for.
type Identity struct {
	Kind        Kind   `json:"kind"`
	AccountID   string `json:"account_id,omitempty"`
	Email       string `json:"email,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Authenticated returns the identity of a signed-in account.
func Authenticated(accountID, email string) Identity {
	return Identity{
		Kind:      KindAuthenticated,
		AccountID: accountID,
		Email:     strings.ToLower(strings.TrimSpace(email)),
	}
}

// Anonymous returns the identity of a visitor known only by fingerprint.
func Anonymous(fingerprint string) Identity {
	return Identity{Kind: KindAnonymous, Fingerprint: fingerprint}
}

// IsAuthenticated reports whether the identity belongs to an account.
func (i Identity) IsAuthenticated() bool {
	return i.Kind == KindAuthenticated && i.AccountID != ""
}

// Key returns the storage key for the identity.
func (i Identity) Key() Key {
	if i.IsAuthenticated() {
		return Key(accountPrefix + i.AccountID)
	}
	return Key(anonymousPrefix + i.Fingerprint)
}

// Validate reports whether the identity carries enough data to key a record.
func (i Identity) Validate() error {
	switch i.Kind {
	case KindAuthenticated:
		if i.AccountID == "" {
			return ErrMissingAccountID
		}
	case KindAnonymous:
		if i.Fingerprint == "" {
			return ErrMissingFingerprint
		}
	default:
		return ErrUnknownKind
	}
	return nil
}
