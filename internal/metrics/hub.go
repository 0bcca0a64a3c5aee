package metrics

import "github.com/prometheus/client_golang/prometheus"

// HubMetrics instruments the broadcast hub. Transport labels are
// "push", "stream" and "poll".
type HubMetrics struct {
	Subscribers  *prometheus.GaugeVec
	Published    prometheus.Counter
	Deliveries   *prometheus.CounterVec
	SelfSkipped  *prometheus.CounterVec
	Pruned       *prometheus.CounterVec
	PollOutcomes *prometheus.CounterVec
	Sweeps       prometheus.Counter
	Panics       prometheus.Counter
}

// NewHubMetrics creates and registers hub metrics on reg.
func NewHubMetrics(reg prometheus.Registerer) *HubMetrics {
	m := &HubMetrics{
		Subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "subscribers",
			Help:      "Registered subscribers per transport.",
		}, []string{"transport"}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "published_total",
			Help:      "Messages handed to the dispatcher.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "deliveries_total",
			Help:      "Successful deliveries per transport.",
		}, []string{"transport"}),
		SelfSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "self_skipped_total",
			Help:      "Subscribers skipped because they originated the message.",
		}, []string{"transport"}),
		Pruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "pruned_total",
			Help:      "Subscribers removed after a failed delivery.",
		}, []string{"transport", "reason"}),
		PollOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "poll_outcomes_total",
			Help:      "Terminal states reached by poll waiters.",
		}, []string{"outcome"}),
		Sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "sweeps_total",
			Help:      "Liveness sweeps run.",
		}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "panics_total",
			Help:      "Panics recovered in the hub actor.",
		}),
	}

	reg.MustRegister(m.Subscribers, m.Published, m.Deliveries, m.SelfSkipped, m.Pruned, m.PollOutcomes, m.Sweeps, m.Panics)
	return m
}
