package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.ObserveTransition("approve")
	m.ObserveTransition("approve")
	m.ObserveSLAScan("escalate")
	m.ObserveValidation("canonical", false)
	m.ObserveOutbox("processed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("approve")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.slaScans.WithLabelValues("escalate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.validationRuns.WithLabelValues("canonical", "invalid")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.validationRuns.WithLabelValues("canonical", "valid")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTransition("approve")
		m.ObserveSLAScan("none")
		m.ObserveValidation("local", true)
		m.ObserveOutbox("failed")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveTransition("reject")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `approvals_transitions_total{action="reject"} 1`)
}
