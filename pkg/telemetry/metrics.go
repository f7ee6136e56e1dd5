package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for the lease watcher and both engines.
// A nil *Metrics, or one built with metrics disabled, records nothing.
type Metrics struct {
	config MetricsConfig

	// Lease metrics
	leasePolls     *prometheus.CounterVec
	leaseSightings prometheus.Counter

	// Job metrics
	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobQueueDepth prometheus.Gauge

	// Backup metrics
	backupsTotal     *prometheus.CounterVec
	backupAttempts   prometheus.Histogram
	backupQueueDepth prometheus.Gauge
	backupsPending   prometheus.Gauge

	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		leasePolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lease_polls_total",
				Help:      "Total number of lease source polls",
			},
			[]string{"result"},
		),
		leaseSightings: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lease_sightings_total",
				Help:      "Total number of new or renewed leases reported to subscribers",
			},
		),

		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Total number of finished jobs",
			},
			[]string{"kind", "status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Duration of job execution in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),
		jobQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "job_queue_depth",
				Help:      "Current number of job ids waiting in the queue",
			},
		),

		backupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backups_total",
				Help:      "Total number of finished backups",
			},
			[]string{"outcome"},
		),
		backupAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backup_attempts",
				Help:      "Number of attempts a backup needed",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
		),
		backupQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backup_queue_depth",
				Help:      "Current number of device ids waiting in the backup queue",
			},
		),
		backupsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backups_pending",
				Help:      "Current number of debounced backups waiting for their delay",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.leasePolls,
		m.leaseSightings,
		m.jobsTotal,
		m.jobDuration,
		m.jobQueueDepth,
		m.backupsTotal,
		m.backupAttempts,
		m.backupQueueDepth,
		m.backupsPending,
		m.errorsByClass,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Lease Metrics

// RecordLeasePoll records one poll of the lease source.
func (m *Metrics) RecordLeasePoll(err error) {
	if !m.enabled() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.leasePolls.WithLabelValues(result).Inc()
}

// RecordLeaseSighting counts a lease reported to subscribers.
func (m *Metrics) RecordLeaseSighting() {
	if !m.enabled() {
		return
	}
	m.leaseSightings.Inc()
}

// Job Metrics

// RecordJob records a finished job with its terminal status and duration.
func (m *Metrics) RecordJob(kind, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.jobsTotal.WithLabelValues(kind, status).Inc()
	m.jobDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// SetJobQueueDepth sets the number of queued job ids.
func (m *Metrics) SetJobQueueDepth(n int) {
	if !m.enabled() {
		return
	}
	m.jobQueueDepth.Set(float64(n))
}

// Backup Metrics

// RecordBackup records a finished backup and how many attempts it took.
func (m *Metrics) RecordBackup(outcome string, attempts int) {
	if !m.enabled() {
		return
	}
	m.backupsTotal.WithLabelValues(outcome).Inc()
	m.backupAttempts.Observe(float64(attempts))
}

// SetBackupQueueDepth sets the number of queued device ids.
func (m *Metrics) SetBackupQueueDepth(n int) {
	if !m.enabled() {
		return
	}
	m.backupQueueDepth.Set(float64(n))
}

// SetPendingBackups sets the number of armed debounce timers.
func (m *Metrics) SetPendingBackups(n int) {
	if !m.enabled() {
		return
	}
	m.backupsPending.Set(float64(n))
}

// RecordError records an error by class.
func (m *Metrics) RecordError(class string) {
	if !m.enabled() || class == "" {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}

// Timer measures the elapsed time of an operation.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint until ctx is cancelled.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger zerolog.Logger) error {
	if !m.enabled() {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", server.Addr).Msg("Metrics server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", server.Addr).Str("path", path).Msg("Metrics server started")
	return nil
}
