// Package metricsvc exposes alert generation metrics to Prometheus.
package metricsvc

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/tahadhari/core/alert"
)

const namespace = "tahadhari"

// Metrics owns its registry, so tests and several instances never collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	emitted          *prometheus.CounterVec
	suppressed       *prometheus.CounterVec
	sweepDuration    prometheus.Histogram
	sweepEnrollments *prometheus.CounterVec
	lastSweep        prometheus.Gauge
}

var _ alert.Recorder = (*Metrics)(nil)

// New registers the alert metrics; withRuntime adds the Go and process collectors.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "emitted_total",
			Help:      "Alerts written, by type, severity and recipient type.",
		}, []string{"type", "severity", "recipient"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "suppressed_total",
			Help:      "Alerts skipped by deduplication, by ledger key.",
		}, []string{"key"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Duration of full enrollment sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		sweepEnrollments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "enrollments_total",
			Help:      "Enrollments processed by sweeps, by result.",
		}, []string{"result"}),
		lastSweep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "last_run_timestamp_seconds",
			Help:      "Start time of the last completed sweep.",
		}),
	}
	m.registry.MustRegister(m.emitted, m.suppressed, m.sweepDuration, m.sweepEnrollments, m.lastSweep)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

func (m *Metrics) AlertEmitted(a alert.Alert) {
	m.emitted.WithLabelValues(string(a.Type), string(a.Severity), string(a.RecipientType)).Inc()
}

func (m *Metrics) AlertSuppressed(key string) {
	m.suppressed.WithLabelValues(key).Inc()
}

func (m *Metrics) ObserveSweep(r alert.SweepReport) {
	m.sweepDuration.Observe(r.Duration.Seconds())
	m.sweepEnrollments.WithLabelValues("succeeded").Add(float64(r.Succeeded))
	m.sweepEnrollments.WithLabelValues("failed").Add(float64(r.Failed - r.TimedOut))
	m.sweepEnrollments.WithLabelValues("timed_out").Add(float64(r.TimedOut))
	m.lastSweep.Set(float64(r.StartedAt.Unix()))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
