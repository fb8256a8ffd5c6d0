package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/verdict/pkg/entitlement"
	"github.com/dmitrymomot/verdict/pkg/metrics"
)

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ConsumeDecided(entitlement.SourceFree, true)
	m.ConsumeDecided(entitlement.SourceNone, false)
	m.CreditsAdded(15)
	m.WebhookHandled("stripe", "applied", 20*time.Millisecond)

	expected := `
# HELP verdict_billing_credits_added_total Credits granted by purchases.
# TYPE verdict_billing_credits_added_total counter
verdict_billing_credits_added_total 15
# HELP verdict_quota_consume_decisions_total Consume decisions by bucket and outcome.
# TYPE verdict_quota_consume_decisions_total counter
verdict_quota_consume_decisions_total{outcome="denied",source="none"} 1
verdict_quota_consume_decisions_total{outcome="granted",source="free"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"verdict_billing_credits_added_total",
		"verdict_quota_consume_decisions_total",
	))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `verdict_webhook_requests_total{outcome="applied",provider="stripe"} 1`)
}

func TestObserverWiring(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())
	svc := entitlement.NewService(entitlement.NewMemoryStore(), entitlement.WithObserver(m))
	require.NotNil(t, svc)
}
