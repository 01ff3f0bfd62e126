// Package metrics owns the prometheus collectors of the approvals service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry, so several
// instances can coexist in one test binary.
type Metrics struct {
	registry       *prometheus.Registry
	transitions    *prometheus.CounterVec
	slaScans       *prometheus.CounterVec
	validationRuns *prometheus.CounterVec
	outbox         *prometheus.CounterVec
}

// New registers the collectors. Process and Go runtime collectors are included.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvals_transitions_total",
			Help: "Applied approval instance transitions by action.",
		}, []string{"action"}),
		slaScans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvals_sla_scan_total",
			Help: "SLA scan results per evaluated instance by outcome.",
		}, []string{"outcome"}),
		validationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvals_validation_runs_total",
			Help: "Workflow validation runs by mode and result.",
		}, []string{"mode", "result"}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvals_outbox_events_total",
			Help: "Outbox deliveries by status.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		m.transitions, m.slaScans, m.validationRuns, m.outbox,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveTransition counts one applied instance action.
func (m *Metrics) ObserveTransition(action string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action).Inc()
}

// ObserveSLAScan counts one instance evaluated by the SLA scan.
func (m *Metrics) ObserveSLAScan(outcome string) {
	if m == nil {
		return
	}
	m.slaScans.WithLabelValues(outcome).Inc()
}

// ObserveValidation counts a validation run. result is "valid" or "invalid".
func (m *Metrics) ObserveValidation(mode string, valid bool) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.validationRuns.WithLabelValues(mode, result).Inc()
}

// ObserveOutbox counts an outbox delivery attempt outcome.
func (m *Metrics) ObserveOutbox(status string) {
	if m == nil {
		return
	}
	m.outbox.WithLabelValues(status).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
