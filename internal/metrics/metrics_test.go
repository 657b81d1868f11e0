package metrics

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
)

func TestCountersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncEventsIngested()
	m.IncEventsIngested()
	m.IncEventsRejected("missing_owner")
	m.IncAlertsDetected("DoS Attack")
	m.AddAlertsEmitted("DoS Attack", "CRITICAL", 2)
	m.AddAlertsEmitted("DoS Attack", "CRITICAL", 0)
	m.IncSinkErrors()
	m.IncStoreErrors("append")
	m.ObserveRule("dos", 3*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsIngested))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsRejected.WithLabelValues("missing_owner")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AlertsEmitted.WithLabelValues("DoS Attack", "CRITICAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkErrors))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RuleDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncEventsIngested()
		m.IncAlertsSuppressed()
		m.ObserveRule("dos", time.Second)
	})
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.IncEventsIngested()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "threatlog_events_ingested_total 1"))
}
