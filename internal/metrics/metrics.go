// Package metrics exposes generation counters for the /metrics endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
)

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal       *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobsInProgress  prometheus.Gauge
	preprocessBytes *prometheus.HistogramVec
	rejectedStarts  *prometheus.CounterVec
	wardrobeImports *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		jobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "closet_generation_jobs_total",
			Help: "Generation jobs finished, by kind, status and error kind.",
		}, []string{"kind", "status", "error_kind"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "closet_generation_job_duration_seconds",
			Help:    "Wall-clock duration of generation jobs.",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 180, 300},
		}, []string{"kind", "status"}),
		jobsInProgress: f.NewGauge(prometheus.GaugeOpts{
			Name: "closet_generation_in_progress",
			Help: "1 while a generation job is running.",
		}),
		preprocessBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "closet_preprocess_output_bytes",
			Help:    "Size of preprocessed image payloads.",
			Buckets: prometheus.ExponentialBuckets(32<<10, 2, 8),
		}, []string{"profile"}),
		rejectedStarts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "closet_generation_rejected_total",
			Help: "Start requests rejected before running, by reason.",
		}, []string{"reason"}),
		wardrobeImports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "closet_wardrobe_imports_total",
			Help: "Wardrobe imports by outcome.",
		}, []string{"outcome"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsInProgress.Set(1)
}

func (m *Metrics) JobFinished(kind domain.JobKind, status domain.JobStatus, errKind domain.ErrorKind, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobsInProgress.Set(0)
	m.jobsTotal.WithLabelValues(string(kind), string(status), string(errKind)).Inc()
	m.jobDuration.WithLabelValues(string(kind), string(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) StartRejected(reason string) {
	if m == nil {
		return
	}
	m.rejectedStarts.WithLabelValues(reason).Inc()
}

func (m *Metrics) Preprocessed(profile string, size int) {
	if m == nil {
		return
	}
	m.preprocessBytes.WithLabelValues(profile).Observe(float64(size))
}

func (m *Metrics) WardrobeImport(outcome string) {
	if m == nil {
		return
	}
	m.wardrobeImports.WithLabelValues(outcome).Inc()
}
