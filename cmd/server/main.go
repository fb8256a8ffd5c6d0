package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/verdict/handler"
	"github.com/dmitrymomot/verdict/modules/checks"
	"github.com/dmitrymomot/verdict/pkg/billing"
	"github.com/dmitrymomot/verdict/pkg/classifier"
	"github.com/dmitrymomot/verdict/pkg/config"
	"github.com/dmitrymomot/verdict/pkg/email"
	"github.com/dmitrymomot/verdict/pkg/entitlement"
	"github.com/dmitrymomot/verdict/pkg/httpserver"
	"github.com/dmitrymomot/verdict/pkg/identity"
	"github.com/dmitrymomot/verdict/pkg/logger"
	"github.com/dmitrymomot/verdict/pkg/metrics"
	"github.com/dmitrymomot/verdict/pkg/ratelimiter"
	"github.com/dmitrymomot/verdict/pkg/redis"
	"github.com/dmitrymomot/verdict/svc/detection"
)

type appConfig struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	Name     string `env:"APP_NAME" envDefault:"verdict"`
	LogLevel string `env:"LOG_LEVEL"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"data/verdict.db"`

	SessionSigningKey string `env:"SESSION_SIGNING_KEY"`
	SessionIssuer     string `env:"SESSION_ISSUER"`

	CatalogPath        string `env:"BILLING_CATALOG_PATH"`
	CheckoutProvider   string `env:"CHECKOUT_PROVIDER" envDefault:"stripe"`
	CheckoutSuccessURL string `env:"CHECKOUT_SUCCESS_URL" envDefault:"http://localhost:8080/?checkout=success"`
	CheckoutCancelURL  string `env:"CHECKOUT_CANCEL_URL" envDefault:"http://localhost:8080/?checkout=cancel"`

	MaxBodySize      int64    `env:"HTTP_MAX_BODY_SIZE" envDefault:"8388608"`
	TrustedProxies   []string `env:"HTTP_TRUSTED_PROXIES" envSeparator:","`
	MetricsAddr      string   `env:"METRICS_ADDR"`
	ConflictAttempts int      `env:"QUOTA_CONFLICT_ATTEMPTS" envDefault:"5"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch args := os.Args[1:]; {
	case len(args) == 0:
		err = run(ctx)
	case args[0] == "delete-account":
		err = deleteAccount(ctx, args[1:])
	default:
		err = fmt.Errorf("unknown command %q, run without arguments to serve or use delete-account <account-id>", args[0])
	}
	if err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {

	var (
		cfg       appConfig
		httpCfg   httpserver.Config
		policy    entitlement.Policy
		detectCfg detection.Config
		aiCfg     classifier.Config
		mailCfg   email.Config
		stripeCfg billing.StripeConfig
		paddleCfg billing.PaddleConfig
		limitCfg  ratelimiter.Config
		redisCfg  redis.Config
	)
	if err := errors.Join(
		config.Load(&cfg),
		config.Load(&httpCfg),
		config.Load(&policy),
		config.Load(&detectCfg),
		config.Load(&aiCfg),
		config.Load(&mailCfg),
		config.Load(&stripeCfg),
		config.Load(&paddleCfg),
		config.Load(&limitCfg),
		config.Load(&redisCfg),
	); err != nil {
		return err
	}
	if err := policy.Validate(); err != nil {
		return err
	}

	log := logger.New(
		logger.WithEnvironment(cfg.Env, cfg.Name),
		logger.WithLevelName(cfg.LogLevel),
		logger.WithContextExtractors(handler.RequestIDExtractor(), identity.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	if aiCfg.APIKey == "" {
		return classifier.ErrMissingAPIKey
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	backend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.close()

	entitlements := entitlement.NewService(backend.store,
		entitlement.WithPolicy(policy),
		entitlement.WithLogger(log),
		entitlement.WithObserver(m),
		entitlement.WithMaxAttempts(cfg.ConflictAttempts),
	)

	catalog := billing.DefaultCatalog()
	if cfg.CatalogPath != "" {
		if catalog, err = billing.LoadCatalog(cfg.CatalogPath); err != nil {
			return err
		}
	}

	providers, err := paymentProviders(stripeCfg, paddleCfg, catalog)
	if err != nil {
		return err
	}
	if len(providers) == 0 {
		log.Warn("no payment provider configured, purchases are disabled")
	}

	notifier, err := receiptNotifier(mailCfg, log)
	if err != nil {
		return err
	}
	reconciler := billing.NewReconciler(entitlements, backend.accounts,
		billing.WithReceipts(notifier),
		billing.WithReconcilerLogger(log),
	)
	webhooks := make(map[string]http.Handler, len(providers))
	for name, p := range providers {
		webhooks[name] = billing.NewWebhookHandler(p, reconciler,
			billing.WithWebhookRecorder(m),
			billing.WithWebhookLogger(log),
		)
	}

	var sessions identity.SessionVerifier
	if cfg.SessionSigningKey != "" {
		v, err := identity.NewJWTVerifier(cfg.SessionSigningKey, identity.WithIssuer(cfg.SessionIssuer))
		if err != nil {
			return err
		}
		sessions = v
	} else {
		log.Warn("SESSION_SIGNING_KEY is not set, every caller is anonymous")
	}

	detector := detection.NewService(entitlements,
		classifier.NewOpenAIClient(aiCfg, classifier.WithLogger(log)),
		detection.WithConfig(detectCfg),
		detection.WithRecorder(m),
		detection.WithLogger(log),
	)

	opts := checks.RouterOptions{
		Detector:   detector,
		Identities: identity.NewResolver(sessions, log),
		Webhooks:   webhooks,
		Health:     backend.health,
		Logger:     log,
		// Metrics share the public listener unless a separate address is set.
		Metrics:     m.Handler(),
		MaxBodySize: cfg.MaxBodySize,
	}
	if p := checkoutProvider(providers, cfg.CheckoutProvider); p != nil {
		opts.Checkout = checks.Checkout{
			Provider:   p,
			Accounts:   backend.accounts,
			Catalog:    catalog,
			SuccessURL: cfg.CheckoutSuccessURL,
			CancelURL:  cfg.CheckoutCancelURL,
		}
	}
	if cfg.MetricsAddr != "" {
		opts.Metrics = nil
	}
	if limitCfg.Enabled() {
		var store ratelimiter.Store
		if backend.redis != nil {
			store = ratelimiter.NewRedisStore(backend.redis, ratelimiter.WithKeyPrefix(redisCfg.KeyPrefix))
		} else {
			mem := ratelimiter.NewMemoryStore()
			defer mem.Close()
			store = mem
		}
		if opts.CheckLimiter, err = ratelimiter.NewBucket(store, limitCfg); err != nil {
			return err
		}
		if opts.TrustedProxies, err = ratelimiter.ParseTrustedProxies(cfg.TrustedProxies); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.New(httpCfg, log).Run(ctx, checks.Router(opts))
	})
	if cfg.MetricsAddr != "" {
		metricsCfg := httpCfg
		metricsCfg.Addr = cfg.MetricsAddr
		g.Go(func() error {
			return httpserver.New(metricsCfg, log.With(logger.Component("metrics"))).Run(ctx, m.Handler())
		})
	}
	return g.Wait()
}

func paymentProviders(stripeCfg billing.StripeConfig, paddleCfg billing.PaddleConfig, catalog billing.Catalog) (map[string]billing.Provider, error) {
	providers := map[string]billing.Provider{}
	if stripeCfg.Enabled() {
		p, err := billing.NewStripeProvider(stripeCfg, catalog)
		if err != nil {
			return nil, err
		}
		providers[p.Name()] = p
	}
	if paddleCfg.Enabled() {
		p, err := billing.NewPaddleProvider(paddleCfg, catalog)
		if err != nil {
			return nil, err
		}
		providers[p.Name()] = p
	}
	return providers, nil
}

// checkoutProvider returns the preferred provider, or any configured one.
func checkoutProvider(providers map[string]billing.Provider, preferred string) billing.Provider {
	if p, ok := providers[preferred]; ok {
		return p
	}
	for _, name := range []string{billing.ProviderStripe, billing.ProviderPaddle} {
		if p, ok := providers[name]; ok {
			return p
		}
	}
	return nil
}

func receiptNotifier(cfg email.Config, log *slog.Logger) (*email.Notifier, error) {
	if !cfg.Enabled() {
		log.Info("postmark is not configured, receipts are written to the log")
		return email.NewNotifier(email.NewLogSender(log), cfg), nil
	}
	sender, err := email.NewPostmarkSender(cfg)
	if err != nil {
		return nil, err
	}
	return email.NewNotifier(sender, cfg), nil
}
