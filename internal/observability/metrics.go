// Package observability holds the Prometheus metrics for the aggregator.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/source"
)

const namespace = "dx_aggregator"

// Metrics holds the counters, histograms, and gauges for the poll loop,
// the source adapters, and the HTTP surface.
type Metrics struct {
	// Source adapter metrics.
	SourceAttempts *prometheus.CounterVec   // labels: source, outcome={ok,empty,error}
	SourceDuration *prometheus.HistogramVec // labels: source
	SpotsDropped   *prometheus.CounterVec   // labels: source

	// Poll loop and store metrics.
	Polls         *prometheus.CounterVec // labels: outcome={ok,empty,stale}
	PollDuration  prometheus.Histogram
	StoreSize     prometheus.Gauge
	SpotsAdded    prometheus.Counter
	SpotsEvicted  prometheus.Counter
	LastPollEpoch prometheus.Gauge

	// Output metrics.
	SinkErrors       *prometheus.CounterVec // labels: sink
	WebsocketClients prometheus.Gauge

	// Propagation.
	PropagationCache *prometheus.CounterVec // labels: result={hit,miss}
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func newMetrics() *Metrics {
	return &Metrics{
		SourceAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_attempts_total",
			Help:      "Adapter fetch attempts by source and outcome.",
		}, []string{"source", "outcome"}),
		SourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Duration of one adapter fetch.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 8, 10, 15},
		}, []string{"source"}),
		SpotsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spots_dropped_total",
			Help:      "Upstream records rejected during normalization.",
		}, []string{"source"}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Completed poll cycles by outcome.",
		}, []string{"outcome"}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of a full fetch-merge-publish cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
		}),
		StoreSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_spots",
			Help:      "Spots currently held in the store.",
		}),
		SpotsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spots_added_total",
			Help:      "New spot identities merged into the store.",
		}),
		SpotsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spots_evicted_total",
			Help:      "Spots removed by retention or the size cap.",
		}),
		LastPollEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_poll_timestamp_seconds",
			Help:      "Unix time of the last successful merge.",
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed writes to downstream sinks.",
		}, []string{"sink"}),
		WebsocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected websocket subscribers.",
		}),
		PropagationCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "propagation_cache_total",
			Help:      "Propagation cache lookups by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SourceAttempts,
		m.SourceDuration,
		m.SpotsDropped,
		m.Polls,
		m.PollDuration,
		m.StoreSize,
		m.SpotsAdded,
		m.SpotsEvicted,
		m.LastPollEpoch,
		m.SinkErrors,
		m.WebsocketClients,
		m.PropagationCache,
	}
}

// ObserveAttempt records one adapter attempt.
func (m *Metrics) ObserveAttempt(a source.Attempt) {
	outcome := "ok"
	switch {
	case a.Err != nil:
		outcome = "error"
	case a.Spots == 0:
		outcome = "empty"
	}
	m.SourceAttempts.WithLabelValues(a.Source, outcome).Inc()
	m.SourceDuration.WithLabelValues(a.Source).Observe(a.Duration.Seconds())
	if a.Dropped > 0 {
		m.SpotsDropped.WithLabelValues(a.Source).Add(float64(a.Dropped))
	}
}

// ObserveCache records a propagation cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if hit {
		m.PropagationCache.WithLabelValues("hit").Inc()
		return
	}
	m.PropagationCache.WithLabelValues("miss").Inc()
}

// ClientConnected and ClientDisconnected track websocket subscribers.
func (m *Metrics) ClientConnected()    { m.WebsocketClients.Inc() }
func (m *Metrics) ClientDisconnected() { m.WebsocketClients.Dec() }
