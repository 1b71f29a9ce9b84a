package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus exports events as counters and tracks dead providers per group.
type Prometheus struct {
	events *prometheus.CounterVec
	dead   *prometheus.GaugeVec
}

// NewPrometheus registers the router collectors on reg under namespace.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: FacilityRouter,
				Name:      "events_total",
				Help:      "Routing outcomes by group, target, outcome and mode.",
			},
			[]string{"group", "target", "outcome", "mode"},
		),
		dead: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: FacilityRouter,
				Name:      "dead_providers",
				Help:      "Providers currently in the dead set.",
			},
			[]string{"group"},
		),
	}
}

func (p *Prometheus) Emit(e Event) {
	p.events.WithLabelValues(e.Group, e.Target, string(e.Outcome), string(e.Mode)).Inc()
	switch e.Outcome {
	case OutcomeDown:
		p.dead.WithLabelValues(e.Group).Inc()
	case OutcomeRecovered:
		p.dead.WithLabelValues(e.Group).Dec()
	}
}

// ResetDead clears the dead-provider gauge. Call it when the router is
// rebuilt, then SetDead for the dead state the new router starts with.
func (p *Prometheus) ResetDead() { p.dead.Reset() }

// SetDead sets the dead-provider gauge of group to n.
func (p *Prometheus) SetDead(group string, n int) {
	p.dead.WithLabelValues(group).Set(float64(n))
}
