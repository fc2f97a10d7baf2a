package reconcile

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the batch endpoint's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	batches      *prometheus.CounterVec
	actions      *prometheus.CounterVec
	readMessages prometheus.Counter
	duration     prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duo",
			Subsystem: "sync",
			Name:      "batches_total",
			Help:      "Batch requests by outcome.",
		}, []string{"outcome"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duo",
			Subsystem: "sync",
			Name:      "actions_total",
			Help:      "Applied actions by type and outcome (ok, error, replayed, aborted).",
		}, []string{"type", "outcome"}),
		readMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "duo",
			Subsystem: "sync",
			Name:      "read_messages_total",
			Help:      "Messages returned by incremental reads.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "duo",
			Subsystem: "sync",
			Name:      "batch_duration_seconds",
			Help:      "Time to reconcile one batch.",
			Buckets:   prometheus.ExponentialBuckets(0.002, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.batches, m.actions, m.readMessages, m.duration)
	}
	return m
}

func (m *Metrics) batch(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(outcome).Inc()
	if seconds >= 0 {
		m.duration.Observe(seconds)
	}
}

func (m *Metrics) action(kind, outcome string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) read(n int) {
	if m == nil {
		return
	}
	m.readMessages.Add(float64(n))
}
