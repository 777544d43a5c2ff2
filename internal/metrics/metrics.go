// Package metrics registers the engine's prometheus collectors on a
// private registry exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "swap_engine"

// Metrics bundles every collector the engine records.
type Metrics struct {
	Registry *prometheus.Registry

	OrdersCreated   prometheus.Counter
	OrdersCancelled prometheus.Counter
	JobsProcessed   *prometheus.CounterVec
	JobDuration     prometheus.Histogram
	QuotesFetched   *prometheus.CounterVec
	SwapsExecuted   *prometheus.CounterVec
	ActiveWorkers   prometheus.Gauge
	WSSubscribers   prometheus.Gauge
	QueueDepth      *prometheus.GaugeVec
}

// New builds the collector set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		OrdersCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders accepted through the API.",
		}),
		OrdersCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_cancelled_total",
			Help:      "Orders cancelled before reaching a terminal execution state.",
		}),
		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Execution job attempts by outcome.",
		}, []string{"outcome"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_attempt_duration_seconds",
			Help:      "Wall time of one execution attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		QuotesFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_fetched_total",
			Help:      "Quote fan-out results by venue and outcome.",
		}, []string{"venue", "outcome"}),
		SwapsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swaps_executed_total",
			Help:      "Swap submissions by venue and outcome.",
		}, []string{"venue", "outcome"}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Workers currently executing a job.",
		}),
		WSSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_subscribers",
			Help:      "Live order subscriptions on the notification hub.",
		}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs per queue state.",
		}, []string{"state"}),
	}
}
