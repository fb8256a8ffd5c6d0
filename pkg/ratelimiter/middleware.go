package ratelimiter

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/dmitrymomot/verdict/pkg/logger"
)

// KeyFunc extracts a bucket key from the request. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// ByNetwork keys requests by client address, IPv6 clients by their /64.
//
// The client address is the peer of the connection. Only when the peer is
// one of the trusted proxies are X-Forwarded-For and X-Real-IP consulted:
// the client is then the rightmost forwarded hop that is not a trusted
// proxy. Headers sent by any other peer are ignored, so a client cannot pick
// its own bucket.
func ByNetwork(trusted ...netip.Prefix) KeyFunc {
	return func(r *http.Request) string {
		addr, ok := clientAddr(r, trusted)
		if !ok {
			return ""
		}
		if addr.Is4() {
			return addr.String()
		}
		prefix, err := addr.Prefix(64)
		if err != nil {
			return ""
		}
		return prefix.String()
	}
}

func clientAddr(r *http.Request, trusted []netip.Prefix) (netip.Addr, bool) {
	peer, ok := parseAddr(r.RemoteAddr)
	if !ok || !isTrusted(peer, trusted) {
		return peer, ok
	}

	hops := r.Header.Values("X-Forwarded-For")
	for i := len(hops) - 1; i >= 0; i-- {
		parts := strings.Split(hops[i], ",")
		for j := len(parts) - 1; j >= 0; j-- {
			hop, ok := parseAddr(strings.TrimSpace(parts[j]))
			if !ok {
				// Anything left of a garbled hop was written by the client.
				return peer, true
			}
			if !isTrusted(hop, trusted) {
				return hop, true
			}
			peer = hop
		}
	}
	if xri, ok := parseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ok {
		return xri, true
	}
	return peer, true
}

func parseAddr(s string) (netip.Addr, bool) {
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseTrustedProxies parses CIDR blocks and bare addresses, as found in
// HTTP_TRUSTED_PROXIES. Empty entries are skipped.
func ParseTrustedProxies(list []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("%w: trusted proxy %q", ErrInvalidConfig, s)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("%w: trusted proxy %q", ErrInvalidConfig, s)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// LimitedFunc writes the response for a denied request.
type LimitedFunc func(w http.ResponseWriter, r *http.Request, res *Result)

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middleware)

type middleware struct {
	limited LimitedFunc
	log     *slog.Logger
}

// WithLimitedHandler replaces the plain-text 429 response.
func WithLimitedHandler(fn LimitedFunc) MiddlewareOption {
	return func(m *middleware) {
		if fn != nil {
			m.limited = fn
		}
	}
}

// WithLogger sets the logger for store failures.
func WithLogger(l *slog.Logger) MiddlewareOption {
	return func(m *middleware) {
		if l != nil {
			m.log = l
		}
	}
}

// Middleware takes one token per request. Requests pass through when the
// store fails.
func Middleware(b *Bucket, key KeyFunc, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	m := &middleware{
		limited: func(w http.ResponseWriter, _ *http.Request, _ *Result) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		},
		log: logger.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			res, err := b.Allow(r.Context(), k)
			if err != nil {
				m.log.ErrorContext(r.Context(), "rate limit store failed, letting request through",
					logger.Component("ratelimiter"),
					logger.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(max(0, res.Remaining)))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed() {
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter().Seconds()))))
				m.limited(w, r, res)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
