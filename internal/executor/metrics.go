package executor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates run outcomes across executors.
type Metrics struct {
	runs          *prometheus.CounterVec
	instructions  prometheus.Counter
	effects       prometheus.Counter
	cancellations prometheus.Counter
	rollbacks     prometheus.Counter
	gas           prometheus.Histogram
}

// NewMetrics creates the run metrics and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "causality",
			Subsystem: "executor",
			Name:      "runs_total",
			Help:      "Completed runs by failure tag; ok for success.",
		}, []string{"result"}),
		instructions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "causality",
			Subsystem: "executor",
			Name:      "instructions_total",
			Help:      "Instructions executed.",
		}),
		effects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "causality",
			Subsystem: "executor",
			Name:      "effects_total",
			Help:      "Effects performed.",
		}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "causality",
			Subsystem: "executor",
			Name:      "cancellations_total",
			Help:      "Tasks cancelled after losing a race.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "causality",
			Subsystem: "executor",
			Name:      "rollbacks_total",
			Help:      "Transactions rolled back.",
		}),
		gas: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "causality",
			Subsystem: "executor",
			Name:      "gas_used",
			Help:      "Gas used per run.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.runs, m.instructions, m.effects, m.cancellations, m.rollbacks, m.gas} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observe(s Stats, failure string) {
	if m == nil {
		return
	}
	result := failure
	if result == "" {
		result = "ok"
	}
	m.runs.WithLabelValues(result).Inc()
	m.instructions.Add(float64(s.Instructions))
	m.effects.Add(float64(s.Effects))
	m.cancellations.Add(float64(s.Cancellations))
	m.rollbacks.Add(float64(s.Rollbacks))
	m.gas.Observe(float64(s.GasUsed))
}
