// Package metrics exposes Prometheus collectors for the subscription lifecycle.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	SweepRuns          *prometheus.CounterVec
	SweepResults       *prometheus.CounterVec
	SweepDuration      prometheus.Histogram
	AdmissionDenials   *prometheus.CounterVec
	Transitions        *prometheus.CounterVec
	WebhookEvents      *prometheus.CounterVec
	NotificationErrors prometheus.Counter
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "casedesk_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casedesk_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		SweepRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "casedesk_sweep_runs_total",
			Help: "Billing conversion sweeps by trigger",
		}, []string{"trigger"}),
		SweepResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "casedesk_sweep_results_total",
			Help: "Per-profile billing conversion outcomes",
		}, []string{"outcome"}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "casedesk_sweep_duration_seconds",
			Help:    "Billing conversion sweep duration",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		AdmissionDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "casedesk_admission_denials_total",
			Help: "Create or write requests denied by the usage limiter",
		}, []string{"kind", "reason"}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "casedesk_subscription_transitions_total",
			Help: "Persisted subscription state transitions",
		}, []string{"event", "from", "to"}),
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "casedesk_webhook_events_total",
			Help: "Inbound webhook events by source and type",
		}, []string{"source", "type"}),
		NotificationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "casedesk_notification_errors_total",
			Help: "Transactional emails that failed to send",
		}),
	}
}

// ObserveSweep records one finished sweep.
func (m *Metrics) ObserveSweep(trigger string, succeeded, failed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(trigger).Inc()
	m.SweepResults.WithLabelValues("success").Add(float64(succeeded))
	m.SweepResults.WithLabelValues("error").Add(float64(failed))
	m.SweepDuration.Observe(elapsed.Seconds())
}

// ObserveDenial records an admission denial.
func (m *Metrics) ObserveDenial(kind, reason string) {
	if m == nil {
		return
	}
	m.AdmissionDenials.WithLabelValues(kind, reason).Inc()
}

// ObserveTransition records a persisted state transition.
func (m *Metrics) ObserveTransition(event, from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(event, from, to).Inc()
}

// ObserveWebhook records an inbound webhook event.
func (m *Metrics) ObserveWebhook(source, eventType string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(source, eventType).Inc()
}

// ObserveNotificationError records a failed email.
func (m *Metrics) ObserveNotificationError() {
	if m == nil {
		return
	}
	m.NotificationErrors.Inc()
}

// Middleware records request counts and latency per route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
