// Package metrics exports accounting and webhook counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/verdict/pkg/entitlement"
)

const namespace = "verdict"

// Metrics holds every collector of the service. It implements
// entitlement.Observer.
type Metrics struct {
	gatherer prometheus.Gatherer

	consumeDecisions *prometheus.CounterVec
	windowResets     prometheus.Counter
	conflictRetries  *prometheus.CounterVec
	creditsAdded     prometheus.Counter
	planChanges      *prometheus.CounterVec
	refunds          *prometheus.CounterVec

	webhookRequests *prometheus.CounterVec
	webhookDuration *prometheus.HistogramVec
	classifications *prometheus.CounterVec
}

var _ entitlement.Observer = (*Metrics)(nil)

// New registers the collectors with reg. Pass prometheus.NewRegistry() in
// tests to avoid clashing with the default registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,

		consumeDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "consume_decisions_total",
			Help:      "Consume decisions by bucket and outcome.",
		}, []string{"source", "outcome"}),
		windowResets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "window_resets_total",
			Help:      "Free-tier windows reset.",
		}),
		conflictRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "conflict_retries_total",
			Help:      "Writes retried after a concurrent modification.",
		}, []string{"op"}),
		creditsAdded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "credits_added_total",
			Help:      "Credits granted by purchases.",
		}),
		planChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "plan_changes_total",
			Help:      "Plan changes by resulting plan.",
		}, []string{"plan"}),
		refunds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "refunds_total",
			Help:      "Units returned after failed checks.",
		}, []string{"source"}),

		webhookRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Payment webhook deliveries by provider and outcome.",
		}, []string{"provider", "outcome"}),
		webhookDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "duration_seconds",
			Help:      "Payment webhook processing duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		classifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "classifications_total",
			Help:      "Classifier calls by outcome.",
		}, []string{"outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ConsumeDecided(source entitlement.Source, granted bool) {
	outcome := "denied"
	if granted {
		outcome = "granted"
	}
	label := string(source)
	if label == "" {
		label = "none"
	}
	m.consumeDecisions.WithLabelValues(label, outcome).Inc()
}

func (m *Metrics) WindowReset() { m.windowResets.Inc() }

func (m *Metrics) ConflictRetried(op string) { m.conflictRetries.WithLabelValues(op).Inc() }

func (m *Metrics) CreditsAdded(credits int) { m.creditsAdded.Add(float64(credits)) }

func (m *Metrics) PlanChanged(plan entitlement.Plan) {
	m.planChanges.WithLabelValues(string(plan)).Inc()
}

func (m *Metrics) Refunded(source entitlement.Source) {
	m.refunds.WithLabelValues(string(source)).Inc()
}

// WebhookHandled records one webhook delivery.
func (m *Metrics) WebhookHandled(provider, outcome string, took time.Duration) {
	m.webhookRequests.WithLabelValues(provider, outcome).Inc()
	m.webhookDuration.WithLabelValues(provider).Observe(took.Seconds())
}

// Classified records one classifier call.
func (m *Metrics) Classified(outcome string) {
	m.classifications.WithLabelValues(outcome).Inc()
}
