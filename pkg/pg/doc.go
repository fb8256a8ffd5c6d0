// Package pg connects to PostgreSQL through pgxpool, applies embedded goose
// migrations and classifies driver errors the stores need to branch on.
package pg
