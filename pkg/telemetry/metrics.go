package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for bootstrap runs. With metrics
// disabled every recording method is a no-op, so callers never branch.
type Metrics struct {
	config MetricsConfig

	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   prometheus.Histogram

	phaseDuration *prometheus.HistogramVec

	packagesInstalled *prometheus.CounterVec
	packagesFailed    *prometheus.CounterVec
	packagesSkipped   *prometheus.CounterVec
	installDuration   *prometheus.HistogramVec

	cacheHits  prometheus.Counter
	downloads  prometheus.Counter
	errorClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boots",
			Name:      "runs_started_total",
			Help:      "Total number of bootstrap runs started",
		}),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "boots",
				Name:      "runs_completed_total",
				Help:      "Total number of bootstrap runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "boots",
			Name:      "run_duration_seconds",
			Help:      "Duration of full bootstrap runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "boots",
				Name:      "phase_duration_seconds",
				Help:      "Duration of phase execution in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"phase", "stage"},
		),
		packagesInstalled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "boots",
				Name:      "packages_installed_total",
				Help:      "Total number of packages installed successfully",
			},
			[]string{"phase", "type"},
		),
		packagesFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "boots",
				Name:      "packages_failed_total",
				Help:      "Total number of package installs that failed",
			},
			[]string{"phase", "type"},
		),
		packagesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "boots",
				Name:      "packages_skipped_total",
				Help:      "Total number of packages skipped by conditions",
			},
			[]string{"phase"},
		),
		installDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "boots",
				Name:      "install_duration_seconds",
				Help:      "Duration of individual package installs in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"type"},
		),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boots",
			Name:      "cache_hits_total",
			Help:      "Total number of package fetches served from the cache",
		}),
		downloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boots",
			Name:      "downloads_total",
			Help:      "Total number of package downloads performed",
		}),
		errorClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "boots",
				Name:      "errors_total",
				Help:      "Total number of errors by classification",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.phaseDuration,
		m.packagesInstalled,
		m.packagesFailed,
		m.packagesSkipped,
		m.installDuration,
		m.cacheHits,
		m.downloads,
		m.errorClass,
	)

	return m
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordRunStarted increments the run counter.
func (m *Metrics) RecordRunStarted() {
	if m.enabled() {
		m.runsStarted.Inc()
	}
}

// RecordRunCompleted records the outcome and duration of a run.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.enabled() {
		m.runsCompleted.WithLabelValues(status).Inc()
		m.runDuration.Observe(duration.Seconds())
	}
}

// RecordPhase records the terminal stage and duration of one phase.
func (m *Metrics) RecordPhase(phase, stage string, duration time.Duration) {
	if m.enabled() {
		m.phaseDuration.WithLabelValues(phase, stage).Observe(duration.Seconds())
	}
}

// RecordPackageInstalled counts a successful install.
func (m *Metrics) RecordPackageInstalled(phase, installerType string, duration time.Duration) {
	if m.enabled() {
		m.packagesInstalled.WithLabelValues(phase, installerType).Inc()
		m.installDuration.WithLabelValues(installerType).Observe(duration.Seconds())
	}
}

// RecordPackageFailed counts a failed install.
func (m *Metrics) RecordPackageFailed(phase, installerType string) {
	if m.enabled() {
		m.packagesFailed.WithLabelValues(phase, installerType).Inc()
	}
}

// RecordPackageSkipped counts a package skipped by its condition.
func (m *Metrics) RecordPackageSkipped(phase string) {
	if m.enabled() {
		m.packagesSkipped.WithLabelValues(phase).Inc()
	}
}

// RecordCacheHit counts a fetch satisfied from the cache.
func (m *Metrics) RecordCacheHit() {
	if m.enabled() {
		m.cacheHits.Inc()
	}
}

// RecordDownload counts a network download.
func (m *Metrics) RecordDownload() {
	if m.enabled() {
		m.downloads.Inc()
	}
}

// RecordError counts an error by classification.
func (m *Metrics) RecordError(class string) {
	if m.enabled() {
		m.errorClass.WithLabelValues(class).Inc()
	}
}

// Handler returns the /metrics HTTP handler, or 404 when disabled.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
