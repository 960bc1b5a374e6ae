package rpcpipe

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks per-method request counts and latency, exposed on the
// process's loopback /metrics endpoint (served in both the Host and the
// Client role).
//
// These are package-level, not per-Server: every Server in the process
// records into one process-wide registry, the same way
// oubliette's internal/metrics package exposes singleton collectors
// rather than re-registering per caller.
var (
	rpcRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devtools_rpc_requests_total",
		Help: "Total number of dispatched pipe RPC requests.",
	}, []string{"method", "outcome"})

	rpcDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "devtools_rpc_duration_seconds",
		Help:    "Pipe RPC handler latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

// Metrics is a thin per-server handle over the shared collectors; it
// exists so Server doesn't reach into package-level state directly.
type Metrics struct{}

func newMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) observe(method, outcome string, d time.Duration) {
	if method == "" {
		method = "(unparsed)"
	}
	rpcRequests.WithLabelValues(method, outcome).Inc()
	rpcDuration.WithLabelValues(method).Observe(d.Seconds())
}
