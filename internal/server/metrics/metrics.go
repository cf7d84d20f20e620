package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "codedrop"

// Metrics holds the service counters. A nil *Metrics records nothing.
type Metrics struct {
	operations    *prometheus.CounterVec
	bytesUploaded prometheus.Counter
	purged        prometheus.Counter
}

// New registers the counters on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Share operations by name and result.",
			},
			[]string{"operation", "result"}),
		bytesUploaded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Plaintext bytes accepted by uploads.",
		}),
		purged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purged_shares_total",
			Help:      "Expired shares removed by sweeps or on access.",
		}),
	}
}

// Operation counts one call of op ending with result ("ok" or an error kind).
func (m *Metrics) Operation(op, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Uploaded(n int64) {
	if m == nil {
		return
	}
	m.bytesUploaded.Add(float64(n))
}

func (m *Metrics) Purged() {
	if m == nil {
		return
	}
	m.purged.Inc()
}
