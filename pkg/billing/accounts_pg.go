package billing

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/verdict/pkg/pg"
)

// PGDirectory is an AccountDirectory over the accounts table.
type PGDirectory struct {
	pool *pgxpool.Pool
}

var _ AccountDirectory = (*PGDirectory)(nil)

func NewPGDirectory(pool *pgxpool.Pool) *PGDirectory {
	return &PGDirectory{pool: pool}
}

const accountColumns = `id, COALESCE(email, ''), COALESCE(stripe_customer_id, ''), COALESCE(paddle_customer_id, ''), created_at`

func (d *PGDirectory) ByID(ctx context.Context, id string) (Account, error) {
	return d.one(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (d *PGDirectory) ByEmail(ctx context.Context, email string) (Account, error) {
	email = normalizeEmail(email)
	if email == "" {
		return Account{}, ErrAccountNotFound
	}
	rows, err := d.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = $1 LIMIT 2`, email)
	if err != nil {
		return Account{}, fmt.Errorf("billing: query accounts by email: %w", err)
	}
	accounts, err := pgx.CollectRows(rows, scanAccount)
	if err != nil {
		return Account{}, fmt.Errorf("billing: scan accounts: %w", err)
	}
	switch len(accounts) {
	case 0:
		return Account{}, ErrAccountNotFound
	case 1:
		return accounts[0], nil
	}
	return Account{}, ErrAmbiguousEmail
}

func (d *PGDirectory) ByCustomer(ctx context.Context, provider, customerID string) (Account, error) {
	if customerID == "" {
		return Account{}, ErrAccountNotFound
	}
	switch provider {
	case ProviderStripe:
		return d.one(ctx, `SELECT `+accountColumns+` FROM accounts WHERE stripe_customer_id = $1`, customerID)
	case ProviderPaddle:
		return d.one(ctx, `SELECT `+accountColumns+` FROM accounts WHERE paddle_customer_id = $1`, customerID)
	}
	return Account{}, ErrAccountNotFound
}

func (d *PGDirectory) Save(ctx context.Context, a Account) error {
	if a.ID == "" {
		return ErrMissingAccountID
	}
	// An empty email is stored as NULL and never replaces a known one.
	_, err := d.pool.Exec(ctx, `
		INSERT INTO accounts (id, email) VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (id) DO UPDATE SET email = COALESCE(EXCLUDED.email, accounts.email)`,
		a.ID, normalizeEmail(a.Email),
	)
	if err != nil {
		return fmt.Errorf("billing: save account: %w", err)
	}
	return nil
}

func (d *PGDirectory) LinkCustomer(ctx context.Context, accountID, provider, customerID string) error {
	var query string
	switch provider {
	case ProviderStripe:
		query = `UPDATE accounts SET stripe_customer_id = $2 WHERE id = $1`
	case ProviderPaddle:
		query = `UPDATE accounts SET paddle_customer_id = $2 WHERE id = $1`
	default:
		return nil
	}
	tag, err := d.pool.Exec(ctx, query, accountID, customerID)
	if err != nil {
		return fmt.Errorf("billing: link customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (d *PGDirectory) one(ctx context.Context, query string, arg string) (Account, error) {
	rows, err := d.pool.Query(ctx, query, arg)
	if err != nil {
		return Account{}, fmt.Errorf("billing: query account: %w", err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAccount)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("billing: scan account: %w", err)
	}
	return a, nil
}

func scanAccount(row pgx.CollectableRow) (Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.Email, &a.StripeCustomerID, &a.PaddleCustomerID, &a.CreatedAt); err != nil {
		return Account{}, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}
