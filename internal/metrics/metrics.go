// Package metrics exposes Prometheus collectors for the annotation engine.
//
// Collectors are registered on an explicit registry rather than the global
// default one, so several engines (and tests) can coexist in one process.
// Every recording method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "annosync"

// Commit outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeNoop      = "noop"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeStale     = "stale"
)

// Metrics holds every collector the engine records into.
type Metrics struct {
	registry *prometheus.Registry

	eventsPublished    *prometheus.CounterVec
	eventsDropped      *prometheus.CounterVec
	eventsDeduplicated *prometheus.CounterVec
	eventsDelivered    *prometheus.CounterVec
	handlerFailures    *prometheus.CounterVec
	queueDepth         prometheus.Gauge

	parseErrors prometheus.Counter

	commits     *prometheus.CounterVec
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	liveStates  *prometheus.GaugeVec

	recomputes        *prometheus.CounterVec
	recomputeDuration *prometheus.HistogramVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		eventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events accepted into the dispatcher queue",
		}, []string{"event_type"}),
		eventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because the dispatcher queue was full or closed",
		}, []string{"event_type"}),
		eventsDeduplicated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_deduplicated_total",
			Help:      "Queued events collapsed into a later event with the same dedup key",
		}, []string{"event_type"}),
		eventsDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Handler invocations performed by the dispatcher",
		}, []string{"event_type"}),
		handlerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_failures_total",
			Help:      "Handler invocations that returned an error or panicked",
		}, []string{"event_type"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatcher_queue_depth",
			Help:      "Events waiting in the dispatcher queue",
		}),

		parseErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Inbound messages dropped because they could not be parsed",
		}),

		commits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_commits_total",
			Help:      "Derived-state commit attempts by outcome",
		}, []string{"store", "outcome"}),
		cacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_cache_hits_total",
			Help:      "Derived-state reads served from the cache",
		}, []string{"store"}),
		cacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_cache_misses_total",
			Help:      "Derived-state reads that fell through to the live map",
		}, []string{"store"}),
		liveStates: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state_live_keys",
			Help:      "Documents with a live derived state",
		}, []string{"store"}),

		recomputes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recomputes_total",
			Help:      "Recompute runs by scheduler kind and outcome",
		}, []string{"kind", "outcome"}),
		recomputeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recompute_duration_seconds",
			Help:      "Time from outline fetch to decoration request",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"kind"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventPublished records an accepted publish.
func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// EventDropped records a publish rejected by backpressure.
func (m *Metrics) EventDropped(eventType string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(eventType).Inc()
}

// EventDeduplicated records a queued event collapsed into a later one.
func (m *Metrics) EventDeduplicated(eventType string) {
	if m == nil {
		return
	}
	m.eventsDeduplicated.WithLabelValues(eventType).Inc()
}

// EventDelivered records one handler invocation.
func (m *Metrics) EventDelivered(eventType string) {
	if m == nil {
		return
	}
	m.eventsDelivered.WithLabelValues(eventType).Inc()
}

// HandlerFailed records a failed handler invocation.
func (m *Metrics) HandlerFailed(eventType string) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(eventType).Inc()
}

// SetQueueDepth records the current dispatcher queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// ParseError records a dropped inbound message.
func (m *Metrics) ParseError() {
	if m == nil {
		return
	}
	m.parseErrors.Inc()
}

// Commit records a commit attempt.
func (m *Metrics) Commit(store, outcome string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(store, outcome).Inc()
}

// CacheHit records a cache hit.
func (m *Metrics) CacheHit(store string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(store).Inc()
}

// CacheMiss records a cache miss.
func (m *Metrics) CacheMiss(store string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(store).Inc()
}

// SetLiveStates records the number of live keys in a store.
func (m *Metrics) SetLiveStates(store string, n int) {
	if m == nil {
		return
	}
	m.liveStates.WithLabelValues(store).Set(float64(n))
}

// Recompute records one recompute run.
func (m *Metrics) Recompute(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.recomputes.WithLabelValues(kind, outcome).Inc()
	m.recomputeDuration.WithLabelValues(kind).Observe(d.Seconds())
}
