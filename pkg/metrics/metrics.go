// Package metrics exposes the pipeline's Prometheus instrumentation. Each
// Metrics value owns its registry so tests and embedded agents never collide
// on the default registerer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the pipeline updates.
type Metrics struct {
	registry *prometheus.Registry

	AnalysesTotal  prometheus.Counter
	AnalysesCached prometheus.Counter
	AnalysesFailed prometheus.Counter
	AICallsTotal   prometheus.Counter
	BatchesFlushed prometheus.Counter

	CacheHitRate prometheus.Gauge
	QueueDepth   prometheus.Gauge
}

// New creates the pipeline metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		AnalysesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "praetor_analyses_total",
			Help: "Incident analyses started",
		}),
		AnalysesCached: factory.NewCounter(prometheus.CounterOpts{
			Name: "praetor_analyses_cached_total",
			Help: "Analyses served from cache without a model call",
		}),
		AnalysesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "praetor_analyses_failed_total",
			Help: "Analyses that ended in a partial or error status",
		}),
		AICallsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "praetor_ai_calls_total",
			Help: "Calls issued to the generative model backend",
		}),
		BatchesFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "praetor_batches_flushed_total",
			Help: "Request batches handed to a processor",
		}),
		CacheHitRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "praetor_cache_hit_rate",
			Help: "Analysis cache hit rate since process start",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "praetor_batch_queue_depth",
			Help: "Incidents waiting in open batches",
		}),
	}
}

// Registry returns the backing registry for the metrics HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
