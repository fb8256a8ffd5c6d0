package billing

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Account is a registered user who can buy checks.
type Account struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	StripeCustomerID string    `json:"stripe_customer_id,omitempty"`
	PaddleCustomerID string    `json:"paddle_customer_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// CustomerID returns the account's customer id at provider.
func (a Account) CustomerID(provider string) string {
	switch provider {
	case ProviderStripe:
		return a.StripeCustomerID
	case ProviderPaddle:
		return a.PaddleCustomerID
	}
	return ""
}

// AccountDirectory looks up accounts for payment attribution.
type AccountDirectory interface {
	// ByID returns ErrAccountNotFound for unknown ids.
	ByID(ctx context.Context, id string) (Account, error)
	// ByEmail matches case-insensitively. It returns ErrAmbiguousEmail when
	// more than one account carries the address.
	ByEmail(ctx context.Context, email string) (Account, error)
	// ByCustomer finds the account linked to a provider customer id.
	ByCustomer(ctx context.Context, provider, customerID string) (Account, error)
	// Save creates the account or updates its email. Accounts without an
	// email are allowed, and an empty email keeps the stored one.
	Save(ctx context.Context, a Account) error
	// LinkCustomer remembers the provider customer id of an account.
	LinkCustomer(ctx context.Context, accountID, provider, customerID string) error
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MemoryDirectory is an in-process AccountDirectory.
type MemoryDirectory struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

var _ AccountDirectory = (*MemoryDirectory)(nil)

func NewMemoryDirectory(accounts ...Account) *MemoryDirectory {
	d := &MemoryDirectory{accounts: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		a.Email = normalizeEmail(a.Email)
		d.accounts[a.ID] = a
	}
	return d
}

func (d *MemoryDirectory) ByID(_ context.Context, id string) (Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.accounts[id]
	if !ok || id == "" {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (d *MemoryDirectory) ByEmail(_ context.Context, email string) (Account, error) {
	email = normalizeEmail(email)
	if email == "" {
		return Account{}, ErrAccountNotFound
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var (
		found Account
		n     int
	)
	for _, a := range d.accounts {
		if a.Email == email {
			found = a
			n++
		}
	}
	switch n {
	case 0:
		return Account{}, ErrAccountNotFound
	case 1:
		return found, nil
	}
	return Account{}, ErrAmbiguousEmail
}

func (d *MemoryDirectory) ByCustomer(_ context.Context, provider, customerID string) (Account, error) {
	if customerID == "" {
		return Account{}, ErrAccountNotFound
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, a := range d.accounts {
		if a.CustomerID(provider) == customerID {
			return a, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (d *MemoryDirectory) Save(_ context.Context, a Account) error {
	if a.ID == "" {
		return ErrMissingAccountID
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, ok := d.accounts[a.ID]
	if ok {
		if email := normalizeEmail(a.Email); email != "" {
			prev.Email = email
		}
		d.accounts[a.ID] = prev
		return nil
	}
	a.Email = normalizeEmail(a.Email)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	d.accounts[a.ID] = a
	return nil
}

func (d *MemoryDirectory) LinkCustomer(_ context.Context, accountID, provider, customerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	switch provider {
	case ProviderStripe:
		a.StripeCustomerID = customerID
	case ProviderPaddle:
		a.PaddleCustomerID = customerID
	}
	d.accounts[accountID] = a
	return nil
}
