package identity

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/verdict/pkg/logger"
)

// Resolver maps requests to identities.
type Resolver struct {
	sessions SessionVerifier
	log      *slog.Logger
}

// NewResolver returns a resolver. A nil verifier treats every caller as anonymous.
func NewResolver(sessions SessionVerifier, log *slog.Logger) *Resolver {
	if log == nil {
		log = logger.Discard()
	}
	return &Resolver{sessions: sessions, log: log}
}

// Resolve returns the authenticated identity when the request carries a
// valid session, and the anonymous fingerprint identity otherwise.
// A rejected token is logged and the caller is treated as anonymous.
func (res *Resolver) Resolve(r *http.Request) Identity {
	if res.sessions != nil {
		s, err := res.sessions.Verify(r)
		switch {
		case err == nil:
			return Authenticated(s.AccountID, s.Email)
		case !errors.Is(err, ErrNoSession):
			res.log.DebugContext(r.Context(), "session rejected, falling back to fingerprint",
				logger.Component("identity"),
				logger.Error(err),
			)
		}
	}
	return Anonymous(Fingerprint(AttributesFromRequest(r)))
}
