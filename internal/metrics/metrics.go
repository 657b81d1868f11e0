// Package metrics holds the Prometheus collectors of the ingestion pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "threatlog"

// Metrics holds all the Prometheus metrics for the service. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	EventsIngested   prometheus.Counter
	EventsRejected   *prometheus.CounterVec
	AlertsDetected   *prometheus.CounterVec
	AlertsEmitted    *prometheus.CounterVec
	AlertsSuppressed prometheus.Counter
	SinkErrors       prometheus.Counter
	StoreErrors      *prometheus.CounterVec
	RuleDuration     *prometheus.HistogramVec
}

// New registers the collectors with reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		EventsIngested: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Total number of events persisted",
		}),
		EventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Total number of events rejected before persistence",
		}, []string{"reason"}),
		AlertsDetected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_detected_total",
			Help:      "Alerts produced by detection rules",
		}, []string{"alert_type"}),
		AlertsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_emitted_total",
			Help:      "Alerts written to the alert sink",
		}, []string{"alert_type", "severity"}),
		AlertsSuppressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Alerts dropped by the cooldown",
		}),
		SinkErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_sink_errors_total",
			Help:      "Failed alert sink writes",
		}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Event store failures by operation",
		}, []string{"operation"}),
		RuleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rule_evaluation_seconds",
			Help:      "Time spent evaluating one rule for one event",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"rule"}),
	}
}

func (m *Metrics) IncEventsIngested() {
	if m == nil {
		return
	}
	m.EventsIngested.Inc()
}

func (m *Metrics) IncEventsRejected(reason string) {
	if m == nil {
		return
	}
	m.EventsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncAlertsDetected(alertType string) {
	if m == nil {
		return
	}
	m.AlertsDetected.WithLabelValues(alertType).Inc()
}

func (m *Metrics) AddAlertsEmitted(alertType, severity string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AlertsEmitted.WithLabelValues(alertType, severity).Add(float64(n))
}

func (m *Metrics) IncAlertsSuppressed() {
	if m == nil {
		return
	}
	m.AlertsSuppressed.Inc()
}

func (m *Metrics) IncSinkErrors() {
	if m == nil {
		return
	}
	m.SinkErrors.Inc()
}

func (m *Metrics) IncStoreErrors(operation string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveRule(rule string, d time.Duration) {
	if m == nil {
		return
	}
	m.RuleDuration.WithLabelValues(rule).Observe(d.Seconds())
}

// Handler exposes g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
