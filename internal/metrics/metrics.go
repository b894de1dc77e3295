// Package metrics exposes Prometheus instrumentation for the server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the server's instruments. A single instance is shared by
// the dispatcher, broadcaster, and transport.
type Metrics struct {
	registry *prometheus.Registry

	ActionsTotal    *prometheus.CounterVec
	JudgmentSeconds prometheus.Histogram
	CommitConflicts prometheus.Counter
	BroadcastDrops  prometheus.Counter
	Sessions        prometheus.Gauge
	TickSeconds     prometheus.Histogram
}

// New creates a metrics bundle on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omniworld",
			Name:      "actions_total",
			Help:      "Actions by terminal state.",
		}, []string{"state"}),
		JudgmentSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "omniworld",
			Name:      "judgment_seconds",
			Help:      "Oracle judgment latency.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		CommitConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "omniworld",
			Name:      "commit_conflicts_total",
			Help:      "Optimistic version conflicts at commit (internal anomalies).",
		}),
		BroadcastDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "omniworld",
			Name:      "broadcast_drops_total",
			Help:      "Events dropped on full subscriber buffers.",
		}),
		Sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "omniworld",
			Name:      "sessions",
			Help:      "Connected player sessions.",
		}),
		TickSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "omniworld",
			Name:      "tick_seconds",
			Help:      "Background region tick duration.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
