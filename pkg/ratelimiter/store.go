package ratelimiter

import "context"

// Store keeps bucket state.
type Store interface {
	// Take refills the bucket for key and removes tokens from it if enough
	// are left. A negative Remaining means nothing was taken. Limit is left
	// for the caller to fill.
	Take(ctx context.Context, key string, tokens int, cfg Config) (Result, error)

	// Reset drops the bucket for key.
	Reset(ctx context.Context, key string) error
}
