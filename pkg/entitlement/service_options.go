package entitlement

import (
	"log/slog"
	"time"
)

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPolicy replaces the default free-tier policy.
func WithPolicy(p Policy) ServiceOption {
	return func(s *Service) { s.policy = p }
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithObserver(o Observer) ServiceOption {
	return func(s *Service) {
		if o != nil {
			s.obs = o
		}
	}
}

// WithMaxAttempts bounds how often a conflicting write is attempted.
func WithMaxAttempts(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}
