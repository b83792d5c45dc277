// Package metrics exposes Prometheus collectors for the alert pipeline.
// A nil *Metrics is valid and records nothing, so tests can skip it.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "whalebot"

// Metrics holds every collector, registered on its own registry
type Metrics struct {
	registry *prometheus.Registry

	// Poller
	Cycles        prometheus.Counter
	Batches       *prometheus.CounterVec
	CycleDuration prometheus.Histogram

	// Pipeline
	Alerts      *prometheus.CounterVec
	Dropped     *prometheus.CounterVec
	DedupErrors prometheus.Counter

	// Distribution
	SinkFailures *prometheus.CounterVec
	QueueDrops   prometheus.Counter
	Subscribers  prometheus.Gauge
}

// New creates and registers all collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycles_total",
			Help:      "Completed polling cycles",
		}),
		Batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "batches_total",
			Help:      "Processed batches by result",
		}, []string{"chain", "result"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one polling cycle",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),

		Alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "alerts_total",
			Help:      "Accepted alerts by kind and chain",
		}, []string{"kind", "chain"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "dropped_candidates_total",
			Help:      "Candidates discarded before acceptance by reason",
		}, []string{"reason"}),
		DedupErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "backend_errors_total",
			Help:      "Dedup backend failures (treated as not seen)",
		}),

		SinkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "sink_failures_total",
			Help:      "Failed deliveries by sink",
		}, []string{"sink"}),
		QueueDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "queue_drops_total",
			Help:      "Messages evicted from the full distribution queue",
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "subscribers",
			Help:      "Connected live-stream subscribers",
		}),
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// GaugeFunc registers a gauge sampled from fn at scrape time
func (m *Metrics) GaugeFunc(subsystem, name, help string, fn func() float64) {
	if m == nil {
		return
	}
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
}

// ─── Nil-safe recorders ───────────────────────────────────────────────────────

func (m *Metrics) CycleDone(d time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.Inc()
	m.CycleDuration.Observe(d.Seconds())
}

func (m *Metrics) BatchDone(chain, result string) {
	if m == nil {
		return
	}
	m.Batches.WithLabelValues(chain, result).Inc()
}

func (m *Metrics) AlertAccepted(kind, chain string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(kind, chain).Inc()
}

func (m *Metrics) CandidatesDropped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Dropped.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) DedupError() {
	if m == nil {
		return
	}
	m.DedupErrors.Inc()
}

func (m *Metrics) SinkFailed(sink string) {
	if m == nil {
		return
	}
	m.SinkFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) QueueDropped() {
	if m == nil {
		return
	}
	m.QueueDrops.Inc()
}

func (m *Metrics) SubscriberDelta(d float64) {
	if m == nil {
		return
	}
	m.Subscribers.Add(d)
}
