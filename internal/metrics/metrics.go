// Package metrics holds the prometheus instrumentation shared by the
// detector, orchestrator and lifecycle binaries.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the counters and gauges used across the pipeline. Components
// only touch the subset relevant to them; unused series simply stay at zero.
type Metrics struct {
	registry *prometheus.Registry

	EventsProcessed    prometheus.Counter
	EventsDropped      prometheus.Counter
	RulesEvaluated     prometheus.Counter
	RuleErrors         prometheus.Counter
	FindingsEmitted    prometheus.Counter
	FindingsSuppressed prometheus.Counter

	FindingsReceived prometheus.Counter
	ActionsRecorded  prometheus.Counter
	ActionsSuppressed prometheus.Counter
	RenderFailures   prometheus.Counter
	PersistFailures  *prometheus.CounterVec

	ActiveDetectors prometheus.Gauge
	WindowEntries   prometheus.Gauge
}

// New creates a Metrics set registered on a private registry.
func New(service string) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": service}

	m := &Metrics{
		registry: reg,
		EventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opmas_events_processed_total", Help: "Normalized events consumed.", ConstLabels: labels}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opmas_events_dropped_total", Help: "Events dropped as malformed.", ConstLabels: labels}),
		RulesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opmas_rules_evaluated_total", Help: "Rule evaluations performed.", ConstLabels: labels}),
		RuleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opmas_rule_errors_total", Help: "Rule evaluations that errored and were isolated.", ConstLabels: labels}),
		FindingsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opmas_findings_emitted_total", Help: "Findings published.", ConstLabels: labels}),
		FindingsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opmas_findings_suppressed_total", Help: "Findings suppressed by cooldown.", ConstLabels: labels}),
		FindingsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opmas_findings_received_total", Help: "Findings consumed by the orchestrator.", ConstLabels: labels}),
		ActionsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opmas_actions_recorded_total", Help: "Intended actions persisted.", ConstLabels: labels}),
		ActionsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opmas_actions_suppressed_total", Help: "Actions suppressed by cooldown.", ConstLabels: labels}),
		RenderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opmas_render_failures_total", Help: "Command templates that failed strict rendering.", ConstLabels: labels}),
		PersistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opmas_persist_failures_total", Help: "Persistence errors by entity.", ConstLabels: labels},
			[]string{"entity"}),
		ActiveDetectors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "opmas_active_detectors", Help: "Detectors currently heartbeating.", ConstLabels: labels}),
		WindowEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "opmas_window_entries", Help: "Entries held across all sliding windows.", ConstLabels: labels}),
	}

	reg.MustRegister(
		m.EventsProcessed, m.EventsDropped, m.RulesEvaluated, m.RuleErrors,
		m.FindingsEmitted, m.FindingsSuppressed, m.FindingsReceived,
		m.ActionsRecorded, m.ActionsSuppressed, m.RenderFailures,
		m.PersistFailures, m.ActiveDetectors, m.WindowEntries,
	)

	return m
}

// Handler returns the scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on the given port in a background goroutine.
func (m *Metrics) Serve(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		_ = srv.ListenAndServe()
	}()
}
