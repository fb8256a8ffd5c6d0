package ratelimiter

import "time"

// Result is the state of a bucket after a take.
type Result struct {
	Limit     int       // bucket capacity
	Remaining int       // tokens left; negative when the request was denied
	ResetAt   time.Time // next refill
	Now       time.Time // store time of the take; ResetAt is on the same clock
}

// Allowed reports whether the request may proceed.
func (r *Result) Allowed() bool {
	return r.Remaining >= 0
}

// RetryAfter returns how long a denied client should wait. Zero when allowed.
func (r *Result) RetryAfter() time.Duration {
	if r.Allowed() {
		return 0
	}
	return max(r.ResetAt.Sub(r.Now), 0)
}

// Config defines a token bucket. A zero capacity disables limiting.
type Config struct {
	Capacity       int           `env:"RATE_LIMIT_CHECKS_BURST" envDefault:"20"`
	RefillRate     int           `env:"RATE_LIMIT_CHECKS_REFILL" envDefault:"10"`
	RefillInterval time.Duration `env:"RATE_LIMIT_CHECKS_INTERVAL" envDefault:"1m"`
}

// Enabled reports whether the config limits anything.
func (c Config) Enabled() bool {
	return c.Capacity > 0
}

// ttl is how long an idle bucket takes to refill completely.
func (c Config) ttl() time.Duration {
	intervals := (c.Capacity + c.RefillRate - 1) / c.RefillRate
	return time.Duration(intervals+1) * c.RefillInterval
}
