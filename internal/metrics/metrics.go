// Package metrics defines the prometheus instrumentation for a
// roughtimed server: request/drop counters, batch-fill and
// signing-latency observations. None of it is on the wire protocol's
// critical path — the server's silent-drop error policy is unchanged,
// this only makes it observable.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "roughtimed"
)

// Metrics holds every counter/histogram a server instance reports.
// Construct one per process with New; tests construct their own with
// an isolated registry to avoid cross-test registration panics.
type Metrics struct {
	RequestsReceived prometheus.Counter
	RequestsDropped  *prometheus.CounterVec
	BatchesFlushed   prometheus.Counter
	BatchFillRatio   prometheus.Histogram
	SignLatency      prometheus.Histogram
	MidpointClamped  prometheus.Counter
}

// New registers and returns a Metrics bound to reg. Pass
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_received_total",
			Help:      "UDP datagrams received on the Roughtime listener.",
		}),
		RequestsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_dropped_total",
			Help:      "Requests dropped before admission to a batch, by reason.",
		}, []string{"reason"}),
		BatchesFlushed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_flushed_total",
			Help:      "Batches signed and flushed to their clients.",
		}),
		BatchFillRatio: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_fill_ratio",
			Help:      "Fraction of configured batch_size actually filled at flush time.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		SignLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sign_latency_seconds",
			Help:      "Time spent computing the Merkle root and Ed25519 signature for one batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		MidpointClamped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "midpoint_clamped_total",
			Help:      "Times the configured offset pushed MIDP before the Unix epoch and it was clamped to 0.",
		}),
	}
}
