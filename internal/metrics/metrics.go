// Package metrics exposes orchestrator activity as Prometheus metrics.
//
// Collected series:
//   - deepwork_operations_total{operation,outcome}
//   - deepwork_operation_duration_seconds{operation}
//   - deepwork_cache_lookups_total{kind,result}
//   - deepwork_store_retries_total{operation}
//   - deepwork_active_sessions
//   - deepwork_session_ceiling_rejections_total
//   - deepwork_session_interruptions_total
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deepwork"

// Outcome labels.
const (
	OutcomeSuccess = "success"
)

// Collector records orchestrator metrics on the registry it was created with.
type Collector struct {
	operations    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
	storeRetries  *prometheus.CounterVec
	sessions      prometheus.Gauge
	rejections    prometheus.Counter
	interruptions prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewCollector creates a Collector and registers it with reg. A nil reg
// uses a fresh private registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Orchestrator operations by outcome (success or error kind).",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Orchestrator operation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by entry kind and result.",
		}, []string{"kind", "result"}),
		storeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Persistence calls retried after a transient failure.",
		}, []string{"operation"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Live work sessions (active or paused).",
		}),
		rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_ceiling_rejections_total",
			Help:      "Session starts rejected by the concurrency ceiling.",
		}),
		interruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_interruptions_total",
			Help:      "Interruptions counted against protected sessions.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(
		c.operations,
		c.latency,
		c.cacheLookups,
		c.storeRetries,
		c.sessions,
		c.rejections,
		c.interruptions,
	)
	return c
}

// ObserveOperation records one finished operation. outcome is
// OutcomeSuccess or the error kind.
func (c *Collector) ObserveOperation(op, outcome string, d time.Duration) {
	c.operations.WithLabelValues(op, outcome).Inc()
	c.latency.WithLabelValues(op).Observe(d.Seconds())
}

// CacheLookup records a cache hit or miss for an entry kind.
func (c *Collector) CacheLookup(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(kind, result).Inc()
}

// StoreRetry records a retried persistence call.
func (c *Collector) StoreRetry(op string) {
	c.storeRetries.WithLabelValues(op).Inc()
}

// SetActiveSessions sets the live session gauge.
func (c *Collector) SetActiveSessions(n int) {
	c.sessions.Set(float64(n))
}

// CeilingRejected records a start refused by the session ceiling.
func (c *Collector) CeilingRejected() {
	c.rejections.Inc()
}

// Interrupted records an interruption of a protected session.
func (c *Collector) Interrupted() {
	c.interruptions.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
