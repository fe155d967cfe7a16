// Package metrics holds the Prometheus collectors of the graph view.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kg_explorer"

// Metrics holds the collectors for loads, enrichment, layout and frames.
type Metrics struct {
	registry *prometheus.Registry

	// Loader
	loadsTotal   *prometheus.CounterVec   // By kind (search/filter/full) and status (ok/error)
	loadDuration *prometheus.HistogramVec // By kind
	lookupsTotal *prometheus.CounterVec   // By status (ok/error)
	inflight     prometheus.Gauge         // Outstanding title lookups
	staleResults prometheus.Counter       // Results dropped for an outdated generation
	details      *prometheus.CounterVec   // Detail fetches by status

	// View
	ticks  prometheus.Counter
	frames prometheus.Counter
	nodes  prometheus.Gauge // Nodes in the current snapshot
	alpha  prometheus.Gauge
}

// New creates the collectors on their own registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		loadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "loads_total",
			Help:      "Total number of snapshot loads",
		}, []string{"kind", "status"}),

		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "load_duration_seconds",
			Help:      "Primary query duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),

		lookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "lookups_total",
			Help:      "Total number of title lookups",
		}, []string{"status"}),

		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "inflight_lookups",
			Help:      "Title lookups currently outstanding",
		}),

		staleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "stale_results_total",
			Help:      "Enrichment results dropped because a newer load replaced their snapshot",
		}),

		details: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "interaction",
			Name:      "detail_fetches_total",
			Help:      "Total number of publication detail fetches",
		}, []string{"status"}),

		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "layout",
			Name:      "ticks_total",
			Help:      "Total number of simulation ticks",
		}),

		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "frames_published_total",
			Help:      "Total number of frames published to subscribers",
		}),

		nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "nodes",
			Help:      "Nodes in the current snapshot",
		}),

		alpha: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "layout",
			Name:      "alpha",
			Help:      "Current simulation alpha",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.loadsTotal,
		m.loadDuration,
		m.lookupsTotal,
		m.inflight,
		m.staleResults,
		m.details,
		m.ticks,
		m.frames,
		m.nodes,
		m.alpha,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// LoadFinished records one primary query
func (m *Metrics) LoadFinished(kind string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.loadsTotal.WithLabelValues(kind, status(err)).Inc()
	m.loadDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// LookupStarted marks a title lookup as outstanding
func (m *Metrics) LookupStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

// LookupFinished records the outcome of a title lookup
func (m *Metrics) LookupFinished(err error) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.lookupsTotal.WithLabelValues(status(err)).Inc()
}

// StaleResult counts a dropped enrichment result
func (m *Metrics) StaleResult() {
	if m == nil {
		return
	}
	m.staleResults.Inc()
}

// DetailFetched records a publication detail fetch
func (m *Metrics) DetailFetched(err error) {
	if m == nil {
		return
	}
	m.details.WithLabelValues(status(err)).Inc()
}

// Tick records one simulation tick and the resulting alpha
func (m *Metrics) Tick(alpha float64) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.alpha.Set(alpha)
}

// FramePublished counts a published frame
func (m *Metrics) FramePublished() {
	if m == nil {
		return
	}
	m.frames.Inc()
}

// SnapshotSize records the node count of the current snapshot
func (m *Metrics) SnapshotSize(n int) {
	if m == nil {
		return
	}
	m.nodes.Set(float64(n))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
