package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for gratulo
type Metrics struct {
	// Mail counters
	MailsSentTotal     prometheus.Counter
	MailsFailedTotal   prometheus.Counter
	MailsRequeuedTotal prometheus.Counter
	MailsEnqueuedTotal prometheus.Counter
	DuplicatesTotal    prometheus.Counter
	RateLimitHitsTotal prometheus.Counter

	// Queue gauges
	QueueDepth  prometheus.Gauge
	QueueFailed prometheus.Gauge

	// Dispatch histograms
	DrainDurationSeconds prometheus.Histogram
	SendDurationSeconds  prometheus.Histogram

	// Job execution
	JobsExecutedTotal *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec
	HTTPErrorsTotal            *prometheus.CounterVec

	// System gauges
	UptimeSeconds prometheus.Gauge
	Goroutines    prometheus.Gauge
	MembersTotal  prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MailsSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gratulo_mails_sent_total",
				Help: "Total number of successfully delivered mails",
			},
		),
		MailsFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gratulo_mails_failed_total",
				Help: "Total number of permanently failed mails",
			},
		),
		MailsRequeuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gratulo_mails_requeued_total",
				Help: "Total number of mails requeued after a failed send",
			},
		),
		MailsEnqueuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gratulo_mails_enqueued_total",
				Help: "Total number of mails added to the dispatch queue",
			},
		),
		DuplicatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gratulo_duplicates_suppressed_total",
				Help: "Total number of enqueues suppressed by duplicate detection",
			},
		),
		RateLimitHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gratulo_rate_limit_hits_total",
				Help: "Total number of drain passes stopped by the send cap",
			},
		),

		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gratulo_queue_depth",
				Help: "Number of pending mails in the dispatch queue",
			},
		),
		QueueFailed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gratulo_queue_failed",
				Help: "Number of permanently failed mails retained in the queue",
			},
		),

		DrainDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gratulo_drain_duration_seconds",
				Help:    "Duration of queue drain passes",
				Buckets: prometheus.DefBuckets,
			},
		),
		SendDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gratulo_send_duration_seconds",
				Help:    "Duration of individual mail deliveries",
				Buckets: prometheus.DefBuckets,
			},
		),

		JobsExecutedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gratulo_jobs_executed_total",
				Help: "Total number of mailer job executions by outcome",
			},
			[]string{"status"},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gratulo_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gratulo_http_request_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gratulo_http_errors_total",
				Help: "Total number of HTTP error responses",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gratulo_uptime_seconds",
				Help: "Time since process start",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gratulo_goroutines",
				Help: "Number of goroutines",
			},
		),
		MembersTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gratulo_members_total",
				Help: "Number of active members",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.MailsSentTotal,
		m.MailsFailedTotal,
		m.MailsRequeuedTotal,
		m.MailsEnqueuedTotal,
		m.DuplicatesTotal,
		m.RateLimitHitsTotal,
		m.QueueDepth,
		m.QueueFailed,
		m.DrainDurationSeconds,
		m.SendDurationSeconds,
		m.JobsExecutedTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDurationSeconds,
		m.HTTPErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.MembersTotal,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncMailsSent increments the sent mail counter
func IncMailsSent() {
	if m := Global(); m != nil {
		m.MailsSentTotal.Inc()
	}
}

// IncMailsFailed increments the permanently failed mail counter
func IncMailsFailed() {
	if m := Global(); m != nil {
		m.MailsFailedTotal.Inc()
	}
}

// IncMailsRequeued increments the requeued mail counter
func IncMailsRequeued() {
	if m := Global(); m != nil {
		m.MailsRequeuedTotal.Inc()
	}
}

// IncMailsEnqueued increments the enqueued mail counter
func IncMailsEnqueued() {
	if m := Global(); m != nil {
		m.MailsEnqueuedTotal.Inc()
	}
}

// IncDuplicateSuppressed increments the duplicate suppression counter
func IncDuplicateSuppressed() {
	if m := Global(); m != nil {
		m.DuplicatesTotal.Inc()
	}
}

// IncRateLimitHits increments the send cap counter
func IncRateLimitHits() {
	if m := Global(); m != nil {
		m.RateLimitHitsTotal.Inc()
	}
}

// SetQueueDepth updates the pending queue gauge
func SetQueueDepth(n float64) {
	if m := Global(); m != nil {
		m.QueueDepth.Set(n)
	}
}

// SetQueueFailed updates the failed queue gauge
func SetQueueFailed(n float64) {
	if m := Global(); m != nil {
		m.QueueFailed.Set(n)
	}
}

// ObserveDrainDuration records the duration of a drain pass in seconds
func ObserveDrainDuration(seconds float64) {
	if m := Global(); m != nil {
		m.DrainDurationSeconds.Observe(seconds)
	}
}

// ObserveSendDuration records the duration of one delivery in seconds
func ObserveSendDuration(seconds float64) {
	if m := Global(); m != nil {
		m.SendDurationSeconds.Observe(seconds)
	}
}

// IncJobExecuted increments the job execution counter for an outcome
func IncJobExecuted(status string) {
	if m := Global(); m != nil {
		m.JobsExecutedTotal.WithLabelValues(status).Inc()
	}
}

// IncHTTPErrors increments the HTTP error counter
func IncHTTPErrors(errorType string) {
	if m := Global(); m != nil {
		m.HTTPErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
