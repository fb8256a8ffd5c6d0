package checks

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/verdict/handler"
	"github.com/dmitrymomot/verdict/pkg/billing"
	"github.com/dmitrymomot/verdict/pkg/binder"
	"github.com/dmitrymomot/verdict/pkg/classifier"
	"github.com/dmitrymomot/verdict/pkg/entitlement"
	"github.com/dmitrymomot/verdict/pkg/httpserver"
	"github.com/dmitrymomot/verdict/pkg/identity"
	"github.com/dmitrymomot/verdict/pkg/logger"
	"github.com/dmitrymomot/verdict/pkg/ratelimiter"
	"github.com/dmitrymomot/verdict/svc/detection"
)

// DefaultMaxBodySize bounds API request bodies. Images arrive inline as
// data URLs, so the limit is well above the text size limit.
const DefaultMaxBodySize = 8 << 20

// Detector runs checks for a caller.
type Detector interface {
	CheckEntitlement(ctx context.Context, id identity.Identity) (entitlement.Balance, error)
	PerformCheck(ctx context.Context, id identity.Identity, content classifier.Content) (detection.Result, error)
}

var _ Detector = (*detection.Service)(nil)

// Checkout configures hosted checkout creation. The route is mounted only
// when a provider is set.
type Checkout struct {
	Provider   billing.Provider
	Accounts   billing.AccountDirectory
	Catalog    billing.Catalog
	SuccessURL string
	CancelURL  string
}

// RouterOptions configures the public API. Detector is required, everything
// else is optional.
type RouterOptions struct {
	Detector   Detector
	Identities *identity.Resolver
	Checkout   Checkout

	// Webhooks maps a provider name to its receiver, mounted at /webhooks/{name}.
	Webhooks map[string]http.Handler

	// CheckLimiter throttles POST /api/checks per client network.
	CheckLimiter *ratelimiter.Bucket
	// TrustedProxies are the peers whose forwarding headers name the client.
	TrustedProxies []netip.Prefix

	Health  []httpserver.Check
	Metrics http.Handler

	Logger      *slog.Logger
	MaxBodySize int64
}

// Router creates the HTTP router.
//
// Example:
//
//	r := checks.Router(checks.RouterOptions{
//	    Detector:   detection.NewService(entitlements, classifier.NewOpenAIClient(cfg)),
//	    Identities: identity.NewResolver(verifier, log),
//	    Webhooks:   map[string]http.Handler{"stripe": billing.NewWebhookHandler(stripe, reconciler)},
//	    Metrics:    m.Handler(),
//	})
func Router(opts RouterOptions) chi.Router {
	if opts.Detector == nil {
		panic("checks: detector is required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	identities := opts.Identities
	if identities == nil {
		identities = identity.NewResolver(nil, log)
	}

	a := &api{
		detector: opts.Detector,
		checkout: opts.Checkout,
		log:      log.With(logger.Component("api")),
	}

	wrap := []handler.WrapOption{handler.WithErrorHandler(handler.NewErrorHandler(log))}
	withBody := append([]handler.WrapOption{handler.WithBinders(binder.JSON(bodyLimit(opts.MaxBodySize)))}, wrap...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/health", httpserver.HealthCheckHandler(log, opts.Health...))
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/webhooks", func(wh chi.Router) {
		for name, h := range opts.Webhooks {
			wh.Method(http.MethodPost, "/"+name, h)
		}
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(identity.Middleware(identities))

		api.Get("/entitlement", handler.Wrap(a.entitlement, wrap...))
		api.With(a.limit(opts.CheckLimiter, opts.TrustedProxies)...).Post("/checks", handler.Wrap(a.performCheck, withBody...))
		if opts.Checkout.Provider != nil {
			api.Get("/offers", handler.Wrap(a.offers, wrap...))
			api.Post("/checkout", handler.Wrap(a.createCheckout, withBody...))
		}
	})

	return r
}

func (a *api) limit(b *ratelimiter.Bucket, trusted []netip.Prefix) []func(http.Handler) http.Handler {
	if b == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{
		ratelimiter.Middleware(b, ratelimiter.ByNetwork(trusted...),
			ratelimiter.WithLogger(a.log),
			ratelimiter.WithLimitedHandler(func(w http.ResponseWriter, r *http.Request, _ *ratelimiter.Result) {
				_ = handler.JSONError(errRateLimited).Render(w, r)
			}),
		),
	}
}

func bodyLimit(n int64) int64 {
	if n <= 0 {
		return DefaultMaxBodySize
	}
	return n
}
