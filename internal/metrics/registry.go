// Package metrics exposes controller counters and gauges in Prometheus
// text format, per spec.md §6's external-interfaces wire contract.
// Narrowed from the teacher's firewall/conntrack/DHCP/DNS surface down to
// the controller domain: policy apply outcomes, goal satisfaction,
// reconciliation, and device reachability.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the controller exports. One Registry per
// process, built with its own prometheus.Registry so tests can construct
// independent instances instead of colliding on the global default
// registerer.
type Registry struct {
	reg *prometheus.Registry

	PoliciesApplied     *prometheus.CounterVec
	PoliciesFailed      *prometheus.CounterVec
	PolicyApplyDuration *prometheus.HistogramVec
	PoliciesActive      *prometheus.GaugeVec

	IntentsSubmitted prometheus.Counter
	IntentsRevoked   prometheus.Counter
	GoalsSatisfied   *prometheus.GaugeVec
	GoalsViolated    *prometheus.GaugeVec

	FeedbackCorrections prometheus.Counter
	HysteresisBlocks    prometheus.Counter

	ReconciliationRuns    *prometheus.CounterVec
	ReconciliationRepairs *prometheus.CounterVec

	DevicesOnline *prometheus.GaugeVec
}

// New builds a Registry and registers every metric with it.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,

		PoliciesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ibnctl_policies_applied_total",
			Help: "Total number of policies successfully applied, by plane and kind.",
		}, []string{"plane", "kind"}),

		PoliciesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ibnctl_policies_failed_total",
			Help: "Total number of policies that crossed the consecutive-failure threshold, by plane and kind.",
		}, []string{"plane", "kind"}),

		PolicyApplyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ibnctl_policy_apply_duration_seconds",
			Help:    "Time to apply a single policy, by plane.",
			Buckets: prometheus.DefBuckets,
		}, []string{"plane"}),

		PoliciesActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ibnctl_policies_active",
			Help: "Number of policies currently in the applied state, by plane.",
		}, []string{"plane"}),

		IntentsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ibnctl_intents_submitted_total",
			Help: "Total number of intents submitted.",
		}),

		IntentsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ibnctl_intents_revoked_total",
			Help: "Total number of intents revoked by an operator.",
		}),

		GoalsSatisfied: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ibnctl_goals_satisfied",
			Help: "Whether an intent's goal is currently satisfied (1) or not (0).",
		}, []string{"intent_id"}),

		GoalsViolated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ibnctl_goals_violated",
			Help: "Whether an intent's goal is currently violated (1) or not (0).",
		}, []string{"intent_id"}),

		FeedbackCorrections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ibnctl_feedback_corrections_total",
			Help: "Total number of corrective intents emitted by the feedback controller.",
		}),

		HysteresisBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ibnctl_hysteresis_blocks_total",
			Help: "Total number of times an oscillating goal tripped the hysteresis damper.",
		}),

		ReconciliationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ibnctl_reconciliation_runs_total",
			Help: "Total number of reconciliation passes, by plane.",
		}, []string{"plane"}),

		ReconciliationRepairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ibnctl_reconciliation_repairs_total",
			Help: "Total number of policies reapplied by reconciliation, by plane.",
		}, []string{"plane"}),

		DevicesOnline: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ibnctl_device_online",
			Help: "Whether a device's last known status was online (1) or offline (0).",
		}, []string{"device_id"}),
	}

	reg.MustRegister(
		r.PoliciesApplied,
		r.PoliciesFailed,
		r.PolicyApplyDuration,
		r.PoliciesActive,
		r.IntentsSubmitted,
		r.IntentsRevoked,
		r.GoalsSatisfied,
		r.GoalsViolated,
		r.FeedbackCorrections,
		r.HysteresisBlocks,
		r.ReconciliationRuns,
		r.ReconciliationRepairs,
		r.DevicesOnline,
	)

	return r
}

// Handler returns the http.Handler that serves this Registry in
// Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
