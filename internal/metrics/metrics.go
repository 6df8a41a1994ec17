// Package metrics holds the Prometheus collectors of the indexer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "astroswap_indexer"

// Metrics holds every collector, registered on the registry given to New.
type Metrics struct {
	registry *prometheus.Registry

	// Sync metrics
	EventsProcessed *prometheus.CounterVec
	EventsSkipped   *prometheus.CounterVec
	HandlerErrors   *prometheus.CounterVec
	CursorLedger    *prometheus.GaugeVec
	CycleDuration   *prometheus.HistogramVec
	ActiveContracts prometheus.Gauge

	// RPC metrics
	FetchDuration prometheus.Histogram
	FetchRetries  prometheus.Counter
	FetchFailures *prometheus.CounterVec
	LatestLedger  prometheus.Gauge

	// Aggregates
	StatsRecounts *prometheus.CounterVec
	Published     *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg gets a fresh registry
// with the Go and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EventsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "events_processed_total",
			Help:      "Events applied to the store, by contract type and event type",
		}, []string{"contract_type", "event_type"}),
		EventsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "events_skipped_total",
			Help:      "Events skipped, by reason",
		}, []string{"reason"}),
		HandlerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "handler_errors_total",
			Help:      "Events that could not be applied, by contract type and error class",
		}, []string{"contract_type", "class"}),
		CursorLedger: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cursor_ledger",
			Help:      "Last processed ledger per contract",
		}, []string{"contract_type", "contract"}),
		CycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one sync loop cycle",
			Buckets:   prometheus.DefBuckets,
		}, []string{"loop"}),
		ActiveContracts: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pairs_tracked",
			Help:      "Number of pair contracts polled by the pair loop",
		}),

		FetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "fetch_duration_seconds",
			Help:      "getEvents latency including retries",
			Buckets:   prometheus.DefBuckets,
		}),
		FetchRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "fetch_retries_total",
			Help:      "getEvents attempts retried after a transient error",
		}),
		FetchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "fetch_failures_total",
			Help:      "getEvents calls that failed after retries, by retryability",
		}, []string{"retryable"}),
		LatestLedger: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "latest_ledger",
			Help:      "Latest ledger reported by the RPC node",
		}),

		StatsRecounts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "recounts_total",
			Help:      "Protocol stats recounts, by trigger",
		}, []string{"trigger"}),
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "published_total",
			Help:      "Realtime pair updates, by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
