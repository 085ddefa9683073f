package flow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus metrics for workflow planning.
//
// Metrics exposed (all namespaced with "stageflow_"):
//
//  1. decisions_total (counter): decisions made per stage and action.
//     Labels: stage, action.
//
//  2. exists_checks_total (counter): existence probes against the external
//     checker, by result. Labels: result ("found"/"missing").
//
//  3. exists_cache_hits_total (counter): probes answered from the per-run
//     cache without touching the checker.
//
//  4. targets_deactivated_total (counter): targets permanently deactivated
//     because a required-but-skipped stage was missing their inputs.
//
//  5. stages_resolved (gauge): stages in the resolved graph, by state.
//     Labels: state ("active"/"skipped").
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewMetrics(registry)
//	wf, err := flow.New(cohort, cfg, flow.WithMetrics(metrics))
//
// Expose via HTTP for scraping with promhttp.HandlerFor(registry, ...).
type Metrics struct {
	decisions          *prometheus.CounterVec
	existsChecks       *prometheus.CounterVec
	existsCacheHits    prometheus.Counter
	targetsDeactivated prometheus.Counter
	stagesResolved     *prometheus.GaugeVec
}

// NewMetrics creates workflow metrics registered on the given registerer.
// Pass prometheus.DefaultRegisterer for the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stageflow",
			Name:      "decisions_total",
			Help:      "Queue/skip/reuse decisions made per stage.",
		}, []string{"stage", "action"}),
		existsChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stageflow",
			Name:      "exists_checks_total",
			Help:      "Existence probes against the external checker, by result.",
		}, []string{"result"}),
		existsCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stageflow",
			Name:      "exists_cache_hits_total",
			Help:      "Existence probes answered from the per-run cache.",
		}),
		targetsDeactivated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stageflow",
			Name:      "targets_deactivated_total",
			Help:      "Targets deactivated due to missing inputs from skipped stages.",
		}),
		stagesResolved: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stageflow",
			Name:      "stages_resolved",
			Help:      "Stages in the resolved graph, by state.",
		}, []string{"state"}),
	}
}

// The observe methods tolerate a nil receiver so the engine can run without
// metrics wired.

func (m *Metrics) observeDecision(stage string, action Action) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(stage, action.String()).Inc()
}

func (m *Metrics) observeExistsCheck(found bool) {
	if m == nil {
		return
	}
	result := "missing"
	if found {
		result = "found"
	}
	m.existsChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) observeExistsCacheHit() {
	if m == nil {
		return
	}
	m.existsCacheHits.Inc()
}

func (m *Metrics) observeTargetDeactivated() {
	if m == nil {
		return
	}
	m.targetsDeactivated.Inc()
}

func (m *Metrics) setStagesResolved(active, skipped int) {
	if m == nil {
		return
	}
	m.stagesResolved.WithLabelValues("active").Set(float64(active))
	m.stagesResolved.WithLabelValues("skipped").Set(float64(skipped))
}
