// Package metrics exposes governor decisions as Prometheus metrics on a
// private registry. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric when Options.Namespace is empty.
const DefaultNamespace = "governor"

// Options configures a Collector.
type Options struct {
	Enabled   bool
	Namespace string
}

// Collector owns every governor metric.
type Collector struct {
	enabled  bool
	registry *prometheus.Registry

	guardDecisions   *prometheus.CounterVec
	guardDuration    *prometheus.HistogramVec
	hookOutcomes     *prometheus.CounterVec
	hookErrors       *prometheus.CounterVec
	toolDecisions    *prometheus.CounterVec
	outputEvals      *prometheus.CounterVec
	outputDuration   prometheus.Histogram
	invalidRules     prometheus.Counter
	adminOperations  *prometheus.CounterVec
	revision         prometheus.Gauge
	pendingApprovals prometheus.Gauge
}

// NewCollector creates a collector registered on a new registry.
func NewCollector(opts Options) *Collector {
	ns := opts.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}

	c := &Collector{
		enabled:  opts.Enabled,
		registry: prometheus.NewRegistry(),

		guardDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "guard",
				Name:      "decisions_total",
				Help:      "Guard pipeline decisions by outcome, rejecting stage and category.",
			},
			[]string{"outcome", "stage", "category"},
		),
		guardDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: "guard",
				Name:      "duration_seconds",
				Help:      "Guard pipeline evaluation latency.",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"outcome"},
		),
		hookOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "hooks",
				Name:      "dispatch_total",
				Help:      "Hook dispatch outcomes by kind.",
			},
			[]string{"kind", "outcome"},
		),
		hookErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "hooks",
				Name:      "errors_total",
				Help:      "Hook errors by kind, hook and failure mode.",
			},
			[]string{"kind", "hook", "mode"},
		),
		toolDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "toolpolicy",
				Name:      "decisions_total",
				Help:      "Tool execution policy decisions.",
			},
			[]string{"decision"},
		),
		outputEvals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "outputguard",
				Name:      "evaluations_total",
				Help:      "Output guard evaluations by outcome.",
			},
			[]string{"outcome"},
		),
		outputDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: "outputguard",
				Name:      "duration_seconds",
				Help:      "Output guard evaluation latency.",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
		invalidRules: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "outputguard",
				Name:      "invalid_rules_total",
				Help:      "Rules skipped during evaluation because their pattern failed to compile.",
			},
		),
		adminOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "admin",
				Name:      "operations_total",
				Help:      "Administrative operations by name and result.",
			},
			[]string{"operation", "result"},
		),
		revision: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "policy_revision",
				Help:      "Current invalidation bus revision.",
			},
		),
		pendingApprovals: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Subsystem: "hooks",
				Name:      "pending_approvals",
				Help:      "Suspended dispatches awaiting an approval decision.",
			},
		),
	}

	c.registry.MustRegister(
		c.guardDecisions,
		c.guardDuration,
		c.hookOutcomes,
		c.hookErrors,
		c.toolDecisions,
		c.outputEvals,
		c.outputDuration,
		c.invalidRules,
		c.adminOperations,
		c.revision,
		c.pendingApprovals,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) active() bool {
	return c != nil && c.enabled
}

// RecordGuardDecision records one guard pipeline result. stage and category
// are empty for admitted requests.
func (c *Collector) RecordGuardDecision(allowed bool, stage, category string, d time.Duration) {
	if !c.active() {
		return
	}
	outcome := "rejected"
	if allowed {
		outcome = "allowed"
	}
	c.guardDecisions.WithLabelValues(outcome, stage, category).Inc()
	c.guardDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordHookOutcome records the outcome of one dispatch.
func (c *Collector) RecordHookOutcome(kind, outcome string) {
	if !c.active() {
		return
	}
	c.hookOutcomes.WithLabelValues(kind, outcome).Inc()
}

// RecordHookError records a hook failure. failClose reports whether the
// error aborted the dispatch.
func (c *Collector) RecordHookError(kind, hook string, failClose bool) {
	if !c.active() {
		return
	}
	mode := "fail_open"
	if failClose {
		mode = "fail_close"
	}
	c.hookErrors.WithLabelValues(kind, hook, mode).Inc()
}

// RecordToolDecision records an allow or deny from the tool policy engine.
func (c *Collector) RecordToolDecision(allowed bool) {
	if !c.active() {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	c.toolDecisions.WithLabelValues(decision).Inc()
}

// RecordOutputEvaluation records an output guard evaluation.
func (c *Collector) RecordOutputEvaluation(outcome string, invalidRules int, d time.Duration) {
	if !c.active() {
		return
	}
	c.outputEvals.WithLabelValues(outcome).Inc()
	c.outputDuration.Observe(d.Seconds())
	if invalidRules > 0 {
		c.invalidRules.Add(float64(invalidRules))
	}
}

// RecordAdminOperation records an administrative call.
func (c *Collector) RecordAdminOperation(operation string, err error) {
	if !c.active() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.adminOperations.WithLabelValues(operation, result).Inc()
}

// SetRevision publishes the current invalidation revision.
func (c *Collector) SetRevision(rev int64) {
	if !c.active() {
		return
	}
	c.revision.Set(float64(rev))
}

// AddPendingApprovals adjusts the pending approvals gauge by delta.
func (c *Collector) AddPendingApprovals(delta int) {
	if !c.active() {
		return
	}
	c.pendingApprovals.Add(float64(delta))
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler serving the registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
