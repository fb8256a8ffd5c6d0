package checks_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/verdict/handler"
	"github.com/dmitrymomot/verdict/modules/checks"
	"github.com/dmitrymomot/verdict/pkg/billing"
	"github.com/dmitrymomot/verdict/pkg/classifier"
	"github.com/dmitrymomot/verdict/pkg/entitlement"
	"github.com/dmitrymomot/verdict/pkg/httpserver"
	"github.com/dmitrymomot/verdict/pkg/identity"
	"github.com/dmitrymomot/verdict/pkg/metrics"
	"github.com/dmitrymomot/verdict/pkg/ratelimiter"
	"github.com/dmitrymomot/verdict/svc/detection"
)

const signingKey = "router-test-signing-key-0123456789"

var visitorHeaders = map[string]string{
	"User-Agent":              "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5)",
	"Accept-Language":         "en-US,en;q=0.9",
	identity.HeaderScreen:     "1920x1080x24",
	identity.HeaderTimezone:   "Europe/Berlin",
	identity.HeaderPlatform:   "MacIntel",
	"X-Unrelated-Test-Header": "ignored",
}

type stubClassifier struct {
	err   error
	calls atomic.Int32
}

func (c *stubClassifier) Classify(_ context.Context, _ classifier.Content) (classifier.Verdict, error) {
	c.calls.Add(1)
	if c.err != nil {
		return classifier.Verdict{}, c.err
	}
	ai := true
	return classifier.Verdict{Confidence: 91, IsAI: &ai, Explanation: "repetitive structure", Sources: []string{}}, nil
}

type fakeProvider struct {
	mu       sync.Mutex
	err      error
	requests []billing.CheckoutRequest
}

func (p *fakeProvider) Name() string            { return billing.ProviderStripe }
func (p *fakeProvider) SignatureHeader() string { return "X-Test-Signature" }

func (p *fakeProvider) ParseWebhook(context.Context, []byte, string) (*billing.PaymentEvent, error) {
	return nil, billing.ErrIgnoredEvent
}

func (p *fakeProvider) CreateCheckout(_ context.Context, req billing.CheckoutRequest) (*billing.CheckoutLink, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.requests = append(p.requests, req)
	return &billing.CheckoutLink{
		URL:       "https://checkout.example.com/c/cs_test_1",
		SessionID: "cs_test_1",
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func (p *fakeProvider) Requests() []billing.CheckoutRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]billing.CheckoutRequest(nil), p.requests...)
}

type testEnv struct {
	router     http.Handler
	verifier   *identity.JWTVerifier
	classifier *stubClassifier
	provider   *fakeProvider
	accounts   *billing.MemoryDirectory
}

type envOption func(*checks.RouterOptions)

func newEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	verifier, err := identity.NewJWTVerifier(signingKey)
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	cls := &stubClassifier{}
	ent := entitlement.NewService(entitlement.NewMemoryStore(), entitlement.WithObserver(m))
	env := &testEnv{
		verifier:   verifier,
		classifier: cls,
		provider:   &fakeProvider{},
		accounts:   billing.NewMemoryDirectory(),
	}

	catalog := billing.DefaultCatalog()
	catalog.Offers = catalog.Offers[:2] // no yearly offer

	ro := checks.RouterOptions{
		Detector:   detection.NewService(ent, cls, detection.WithRecorder(m)),
		Identities: identity.NewResolver(verifier, nil),
		Checkout: checks.Checkout{
			Provider:   env.provider,
			Accounts:   env.accounts,
			Catalog:    catalog,
			SuccessURL: "https://verdict.example.com/thanks",
			CancelURL:  "https://verdict.example.com/pricing",
		},
		Webhooks: map[string]http.Handler{
			billing.ProviderStripe: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusAccepted)
			}),
		},
		Health:  []httpserver.Check{{Name: "store", Check: func(context.Context) error { return nil }}},
		Metrics: m.Handler(),
	}
	for _, opt := range opts {
		opt(&ro)
	}
	env.router = checks.Router(ro)
	return env
}

func (e *testEnv) token(t *testing.T, accountID, email string) map[string]string {
	t.Helper()
	tok, err := e.verifier.Issue(identity.Session{AccountID: accountID, Email: email}, time.Hour)
	require.NoError(t, err)
	headers := map[string]string{"Authorization": "Bearer " + tok}
	for k, v := range visitorHeaders {
		headers[k] = v
	}
	return headers
}

type envelope struct {
	Data  json.RawMessage      `json:"data"`
	Error *handler.ErrorDetail `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") && w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func (e *testEnv) balance(t *testing.T, headers map[string]string) entitlement.Balance {
	t.Helper()
	w, env := e.do(t, http.MethodGet, "/api/entitlement", "", headers)
	require.Equal(t, http.StatusOK, w.Code)
	var b entitlement.Balance
	require.NoError(t, json.Unmarshal(env.Data, &b))
	return b
}

const textBody = `{"text":"It is important to note that, in conclusion, the results are significant."}`

func TestRouter_Entitlement(t *testing.T) {
	t.Parallel()

	t.Run("anonymous visitor starts with the free allowance", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		b := env.balance(t, visitorHeaders)
		assert.Equal(t, 3, b.Remaining)
		assert.Equal(t, 3, b.FreeTotal)
		assert.Equal(t, entitlement.PlanNone, b.Plan)
		assert.False(t, b.Unlimited)
	})

	t.Run("usage cannot be reset over the api", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		auth := env.token(t, "acc_1", "alice@example.com")

		for range 3 {
			w, _ := env.do(t, http.MethodPost, "/api/checks", textBody, auth)
			require.Equal(t, http.StatusOK, w.Code)
		}
		require.Equal(t, 0, env.balance(t, auth).Remaining)

		w, _ := env.do(t, http.MethodDelete, "/api/entitlement", "", auth)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

		assert.Equal(t, 0, env.balance(t, auth).Remaining)
		w, _ = env.do(t, http.MethodPost, "/api/checks", textBody, auth)
		assert.Equal(t, http.StatusPaymentRequired, w.Code)
	})
}

func TestRouter_PerformCheck(t *testing.T) {
	t.Parallel()

	t.Run("free checks then payment required", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)

		for i := range 3 {
			w, body := env.do(t, http.MethodPost, "/api/checks", textBody, visitorHeaders)
			require.Equal(t, http.StatusOK, w.Code, "check %d", i+1)

			var res detection.Result
			require.NoError(t, json.Unmarshal(body.Data, &res))
			assert.False(t, res.Denied)
			assert.Equal(t, entitlement.SourceFree, res.Source)
			assert.NotEmpty(t, res.CheckID)
			require.NotNil(t, res.Verdict)
			assert.Equal(t, 91, res.Verdict.Confidence)
			assert.Equal(t, 2-i, res.Balance.Remaining)
		}

		w, body := env.do(t, http.MethodPost, "/api/checks", textBody, visitorHeaders)
		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		require.NotNil(t, body.Error)
		assert.Equal(t, "quota_exhausted", body.Error.Code)

		var res detection.Result
		require.NoError(t, json.Unmarshal(body.Data, &res))
		assert.True(t, res.Denied)
		assert.Nil(t, res.Verdict)
		assert.Equal(t, 0, res.Balance.Remaining)
		assert.EqualValues(t, 3, env.classifier.calls.Load())
	})

	t.Run("account quota is separate from the device quota", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		for range 3 {
			w, _ := env.do(t, http.MethodPost, "/api/checks", textBody, visitorHeaders)
			require.Equal(t, http.StatusOK, w.Code)
		}

		auth := env.token(t, "acc_2", "bob@example.com")
		w, _ := env.do(t, http.MethodPost, "/api/checks", textBody, auth)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 2, env.balance(t, auth).Remaining)
	})

	t.Run("invalid content does not consume", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)

		w, body := env.do(t, http.MethodPost, "/api/checks", `{"text":"   "}`, visitorHeaders)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		require.NotNil(t, body.Error)
		assert.Equal(t, "invalid_content", body.Error.Code)

		w, body = env.do(t, http.MethodPost, "/api/checks", `{"image":"ftp://example.com/a.png"}`, visitorHeaders)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		require.NotNil(t, body.Error)
		assert.Contains(t, body.Error.Message, "data URL")

		assert.Equal(t, 3, env.balance(t, visitorHeaders).Remaining)
		assert.Zero(t, env.classifier.calls.Load())
	})

	t.Run("classifier failure refunds the check", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		env.classifier.err = errors.New("upstream timeout")

		w, body := env.do(t, http.MethodPost, "/api/checks", textBody, visitorHeaders)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		require.NotNil(t, body.Error)
		assert.Equal(t, "classification_failed", body.Error.Code)
		assert.Equal(t, 3, env.balance(t, visitorHeaders).Remaining)
	})

	t.Run("malformed json", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		w, body := env.do(t, http.MethodPost, "/api/checks", `{"text":`, visitorHeaders)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		require.NotNil(t, body.Error)
		assert.Equal(t, "bad_request", body.Error.Code)
	})

	t.Run("body over limit", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t, func(o *checks.RouterOptions) { o.MaxBodySize = 64 })
		big := `{"text":"` + strings.Repeat("a", 256) + `"}`
		w, _ := env.do(t, http.MethodPost, "/api/checks", big, visitorHeaders)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, 3, env.balance(t, visitorHeaders).Remaining)
	})

	t.Run("throttled per network before consuming", func(t *testing.T) {
		t.Parallel()
		store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0))
		t.Cleanup(store.Close)
		limiter, err := ratelimiter.NewBucket(store, ratelimiter.Config{Capacity: 2, RefillRate: 1, RefillInterval: time.Hour})
		require.NoError(t, err)
		env := newEnv(t, func(o *checks.RouterOptions) { o.CheckLimiter = limiter })

		for range 2 {
			w, _ := env.do(t, http.MethodPost, "/api/checks", textBody, visitorHeaders)
			require.Equal(t, http.StatusOK, w.Code)
		}
		w, body := env.do(t, http.MethodPost, "/api/checks", textBody, visitorHeaders)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.NotEmpty(t, w.Header().Get("Retry-After"))
		require.NotNil(t, body.Error)
		assert.Equal(t, "too_many_requests", body.Error.Code)
		assert.Equal(t, 1, env.balance(t, visitorHeaders).Remaining)
	})

	t.Run("forwarded headers do not pick the bucket", func(t *testing.T) {
		t.Parallel()
		store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0))
		t.Cleanup(store.Close)
		limiter, err := ratelimiter.NewBucket(store, ratelimiter.Config{Capacity: 2, RefillRate: 1, RefillInterval: time.Hour})
		require.NoError(t, err)
		env := newEnv(t, func(o *checks.RouterOptions) { o.CheckLimiter = limiter })

		codes := make([]int, 0, 3)
		for i := range 3 {
			headers := map[string]string{
				"X-Forwarded-For": fmt.Sprintf("198.51.100.%d", i+1),
				"X-Real-IP":       fmt.Sprintf("198.51.100.%d", i+1),
			}
			for k, v := range visitorHeaders {
				headers[k] = v
			}
			w, _ := env.do(t, http.MethodPost, "/api/checks", textBody, headers)
			codes = append(codes, w.Code)
		}
		assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	})

	t.Run("invalid token falls back to the device", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		headers := map[string]string{"Authorization": "Bearer not-a-token"}
		for k, v := range visitorHeaders {
			headers[k] = v
		}
		w, _ := env.do(t, http.MethodPost, "/api/checks", textBody, headers)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 2, env.balance(t, visitorHeaders).Remaining)
	})
}

func TestRouter_Checkout(t *testing.T) {
	t.Parallel()

	t.Run("requires a session", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		w, body := env.do(t, http.MethodPost, "/api/checkout", `{"plan":"pay_per_use"}`, visitorHeaders)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		require.NotNil(t, body.Error)
		assert.Empty(t, env.provider.Requests())
	})

	t.Run("validates the plan", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		auth := env.token(t, "acc_1", "alice@example.com")

		w, body := env.do(t, http.MethodPost, "/api/checkout", `{"plan":"lifetime"}`, auth)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		require.NotNil(t, body.Error)
		assert.Equal(t, "validation_error", body.Error.Code)
		assert.Contains(t, body.Error.Details, "plan")

		w, body = env.do(t, http.MethodPost, "/api/checkout", `{"plan":"yearly"}`, auth)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		require.NotNil(t, body.Error)
		assert.Equal(t, "unknown_plan", body.Error.Code)
	})

	t.Run("creates a checkout carrying the account", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		auth := env.token(t, "acc_1", "Alice@Example.com")

		w, body := env.do(t, http.MethodPost, "/api/checkout", `{"plan":"pay_per_use"}`, auth)
		require.Equal(t, http.StatusCreated, w.Code)

		var link billing.CheckoutLink
		require.NoError(t, json.Unmarshal(body.Data, &link))
		assert.Equal(t, "https://checkout.example.com/c/cs_test_1", link.URL)
		assert.Equal(t, "cs_test_1", link.SessionID)

		reqs := env.provider.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "acc_1", reqs[0].AccountID)
		assert.Equal(t, "alice@example.com", reqs[0].Email)
		assert.Equal(t, entitlement.PlanPayPerUse, reqs[0].Offer.Plan)
		assert.Equal(t, 15, reqs[0].Offer.Credits)
		assert.Equal(t, "https://verdict.example.com/thanks", reqs[0].SuccessURL)

		acc, err := env.accounts.ByID(context.Background(), "acc_1")
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", acc.Email)
	})

	t.Run("provider failure", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		env.provider.err = errors.Join(billing.ErrProviderError, errors.New("connection reset"))
		auth := env.token(t, "acc_1", "alice@example.com")

		w, body := env.do(t, http.MethodPost, "/api/checkout", `{"plan":"monthly"}`, auth)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		require.NotNil(t, body.Error)
		assert.Equal(t, "checkout_unavailable", body.Error.Code)
	})

	t.Run("lists offers", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		w, body := env.do(t, http.MethodGet, "/api/offers", "", visitorHeaders)
		require.Equal(t, http.StatusOK, w.Code)

		var offers []billing.Offer
		require.NoError(t, json.Unmarshal(body.Data, &offers))
		require.Len(t, offers, 2)
		assert.Equal(t, int64(300), offers[0].PriceCents)
		assert.Empty(t, offers[0].StripePriceID)
	})

	t.Run("not mounted without a provider", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t, func(o *checks.RouterOptions) { o.Checkout = checks.Checkout{} })
		auth := env.token(t, "acc_1", "alice@example.com")
		w, _ := env.do(t, http.MethodPost, "/api/checkout", `{"plan":"monthly"}`, auth)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRouter_Infrastructure(t *testing.T) {
	t.Parallel()

	t.Run("webhooks are mounted by provider name", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		w, _ := env.do(t, http.MethodPost, "/webhooks/stripe", `{}`, nil)
		assert.Equal(t, http.StatusAccepted, w.Code)

		w, _ = env.do(t, http.MethodPost, "/webhooks/paddle", `{}`, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("health", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		w, _ := env.do(t, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	})

	t.Run("unhealthy dependency", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t, func(o *checks.RouterOptions) {
			o.Health = []httpserver.Check{{Name: "redis", Check: func(context.Context) error { return errors.New("dial tcp: refused") }}}
		})
		w, _ := env.do(t, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "redis")
	})

	t.Run("metrics reflect checks", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		w, _ := env.do(t, http.MethodPost, "/api/checks", textBody, visitorHeaders)
		require.Equal(t, http.StatusOK, w.Code)

		w, _ = env.do(t, http.MethodGet, "/metrics", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "verdict_quota_consume_decisions_total")
	})

	t.Run("detector is required", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { checks.Router(checks.RouterOptions{}) })
	})
}
