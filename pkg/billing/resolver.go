package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrymomot/verdict/pkg/identity"
)

// IdentityResolver attributes payment events to accounts.
type IdentityResolver struct {
	accounts AccountDirectory
}

func NewIdentityResolver(accounts AccountDirectory) *IdentityResolver {
	if accounts == nil {
		panic("billing: account directory is required")
	}
	return &IdentityResolver{accounts: accounts}
}

// Resolve finds the account a payment belongs to. An explicit account id
// wins and must agree with the email when both are present. Without one,
// the provider customer id and then the email are looked up. Nothing is
// ever guessed: when no rule matches, ErrIdentityUnresolved is returned.
func (r *IdentityResolver) Resolve(ctx context.Context, provider string, hint Hint) (identity.Identity, error) {
	if hint.AccountID != "" {
		acc, err := r.accounts.ByID(ctx, hint.AccountID)
		switch {
		case errors.Is(err, ErrAccountNotFound):
			return identity.Identity{}, fmt.Errorf("%w: unknown account %q", ErrIdentityUnresolved, hint.AccountID)
		case err != nil:
			return identity.Identity{}, err
		}
		if email := normalizeEmail(hint.Email); email != "" && email != acc.Email {
			return identity.Identity{}, fmt.Errorf("%w: email does not match account %q", ErrIdentityUnresolved, acc.ID)
		}
		return identity.Authenticated(acc.ID, acc.Email), nil
	}

	if hint.CustomerID != "" {
		acc, err := r.accounts.ByCustomer(ctx, provider, hint.CustomerID)
		switch {
		case err == nil:
			return identity.Authenticated(acc.ID, acc.Email), nil
		case !errors.Is(err, ErrAccountNotFound):
			return identity.Identity{}, err
		}
	}

	if hint.Email != "" {
		acc, err := r.accounts.ByEmail(ctx, hint.Email)
		switch {
		case err == nil:
			return identity.Authenticated(acc.ID, acc.Email), nil
		case errors.Is(err, ErrAmbiguousEmail):
			return identity.Identity{}, errors.Join(ErrIdentityUnresolved, err)
		case !errors.Is(err, ErrAccountNotFound):
			return identity.Identity{}, err
		}
	}
	return identity.Identity{}, ErrIdentityUnresolved
}
