// Package metrics exposes the core's Prometheus gauges/counters: execution
// queue depth, circuit breaker state, dispatch latency and the safety
// cache's hit rate, grounded on the pack's trading-bot prometheus usage
// (chidi150c-coinbase, Inkedup1114-bitunixbot) since the teacher itself has
// no metrics package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry groups the collectors so the daemon can register them once at
// boot and hand /metrics a single promhttp.Handler.
type Registry struct {
	QueueDepth      *prometheus.GaugeVec
	BreakerOpen     prometheus.Gauge
	DispatchLatency prometheus.Histogram
	SafetyCacheHits prometheus.Counter
	SafetyCacheMiss prometheus.Counter
	OrdersTotal     *prometheus.CounterVec
	PositionsOpen   prometheus.Gauge
}

// NewRegistry builds and registers the collector set against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "walltrack",
			Subsystem: "exec_queue",
			Name:      "depth",
			Help:      "Pending requests in the execution queue by priority.",
		}, []string{"priority"}),
		BreakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "walltrack",
			Subsystem: "breaker",
			Name:      "open",
			Help:      "1 if the circuit breaker is currently open, else 0.",
		}),
		DispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "walltrack",
			Subsystem: "exec_queue",
			Name:      "dispatch_latency_seconds",
			Help:      "Time from submit to venue dispatch.",
			Buckets:   prometheus.DefBuckets,
		}),
		SafetyCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walltrack",
			Subsystem: "safety",
			Name:      "cache_hits_total",
			Help:      "Safety Evaluator cache hits.",
		}),
		SafetyCacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walltrack",
			Subsystem: "safety",
			Name:      "cache_misses_total",
			Help:      "Safety Evaluator cache misses (upstream analysis performed).",
		}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walltrack",
			Subsystem: "exec_queue",
			Name:      "orders_total",
			Help:      "Orders dispatched by kind and terminal status.",
		}, []string{"kind", "status"}),
		PositionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "walltrack",
			Subsystem: "position",
			Name:      "open_total",
			Help:      "Currently open positions.",
		}),
	}
	reg.MustRegister(r.QueueDepth, r.BreakerOpen, r.DispatchLatency, r.SafetyCacheHits, r.SafetyCacheMiss, r.OrdersTotal, r.PositionsOpen)
	return r
}
