package dialogue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts chat turns. A nil *Metrics records nothing.
type Metrics struct {
	turns    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	results  prometheus.Histogram
}

// NewMetrics registers the turn collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopbot",
			Name:      "turns_total",
			Help:      "Chat turns handled, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shopbot",
			Name:      "turn_duration_seconds",
			Help:      "Time spent handling a chat turn.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"kind"}),
		results: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "shopbot",
			Name:      "search_results",
			Help:      "Products returned per search.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
	}
	reg.MustRegister(m.turns, m.duration, m.results)
	return m
}

func (m *Metrics) observeTurn(kind Kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(string(kind), outcome).Inc()
	m.duration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

func (m *Metrics) observeResults(n int) {
	if m == nil {
		return
	}
	m.results.Observe(float64(n))
}
