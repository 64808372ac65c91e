package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Assignment metrics
	AssignmentsTotal     *prometheus.CounterVec
	AssignmentScore      prometheus.Histogram
	AssignmentConfidence prometheus.Histogram
	EscalationsTotal     prometheus.Counter

	// Resilience metrics
	RetryAttemptsTotal     *prometheus.CounterVec
	DegradedComponents     *prometheus.GaugeVec
	DegradationEventsTotal *prometheus.CounterVec
	RecoveryAttemptsTotal  *prometheus.CounterVec
	RecoveryDuration       *prometheus.HistogramVec
	HealthCheckDuration    *prometheus.HistogramVec
	ComponentHealthy       *prometheus.GaugeVec

	// System metrics
	QueueDepth *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "bug_triage",
		Enabled:   true,
	}
}

// NewMetrics creates all metrics and registers them with reg. A nil reg uses
// the default Prometheus registry. Disabled metrics return nil.
func NewMetrics(config *Config, reg prometheus.Registerer) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return nil
	}

	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		AssignmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "assignments_total",
				Help:      "Assignment attempts by outcome",
			},
			[]string{"outcome"},
		),
		AssignmentScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "assignment_score",
				Help:      "Total score of the selected developer",
				Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		AssignmentConfidence: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "assignment_confidence",
				Help:      "Confidence of the selected developer",
				Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		EscalationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "manual_escalations_total",
				Help:      "Bugs escalated to manual assignment",
			},
		),
		RetryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "retry_attempts_total",
				Help:      "Retries performed after a transient failure",
			},
			[]string{"operation"},
		),
		DegradedComponents: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "component_degraded",
				Help:      "1 when the component runs in degraded mode",
			},
			[]string{"component"},
		),
		DegradationEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "degradation_events_total",
				Help:      "Transitions into degraded mode",
			},
			[]string{"component"},
		),
		RecoveryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "recovery_attempts_total",
				Help:      "Recovery attempts by component and result",
			},
			[]string{"component", "result"},
		),
		RecoveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "recovery_duration_seconds",
				Help:      "Recovery procedure duration in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"component"},
		),
		HealthCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "health_check_duration_seconds",
				Help:      "Health check latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"component"},
		),
		ComponentHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "component_healthy",
				Help:      "1 when the last health check passed",
			},
			[]string{"component"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "queue_depth",
				Help:      "Number of items waiting in a queue",
			},
			[]string{"queue"},
		),
		gatherer: gatherer,
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AssignmentsTotal,
		m.AssignmentScore,
		m.AssignmentConfidence,
		m.EscalationsTotal,
		m.RetryAttemptsTotal,
		m.DegradedComponents,
		m.DegradationEventsTotal,
		m.RecoveryAttemptsTotal,
		m.RecoveryDuration,
		m.HealthCheckDuration,
		m.ComponentHealthy,
		m.QueueDepth,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordAssignment records one assignment outcome. Score and confidence are
// observed only for outcomes that picked a developer.
func (m *Metrics) RecordAssignment(outcome string, total, confidence float64, picked bool) {
	if m == nil {
		return
	}

	m.AssignmentsTotal.WithLabelValues(outcome).Inc()
	if picked {
		m.AssignmentScore.Observe(total)
		m.AssignmentConfidence.Observe(confidence)
	}
}

// RecordEscalation records a manual assignment escalation
func (m *Metrics) RecordEscalation() {
	if m == nil {
		return
	}
	m.EscalationsTotal.Inc()
}

// RecordRetry records a retry of operation
func (m *Metrics) RecordRetry(operation string) {
	if m == nil {
		return
	}
	m.RetryAttemptsTotal.WithLabelValues(operation).Inc()
}

// SetDegraded updates the degraded gauge and counts transitions into degraded mode
func (m *Metrics) SetDegraded(component string, degraded bool) {
	if m == nil {
		return
	}

	if degraded {
		m.DegradedComponents.WithLabelValues(component).Set(1)
		m.DegradationEventsTotal.WithLabelValues(component).Inc()
		return
	}
	m.DegradedComponents.WithLabelValues(component).Set(0)
}

// RecordRecovery records a recovery attempt
func (m *Metrics) RecordRecovery(component, result string, duration time.Duration) {
	if m == nil {
		return
	}

	m.RecoveryAttemptsTotal.WithLabelValues(component, result).Inc()
	m.RecoveryDuration.WithLabelValues(component).Observe(duration.Seconds())
}

// ObserveHealthCheck records the latency and result of a health check
func (m *Metrics) ObserveHealthCheck(component string, healthy bool, duration time.Duration) {
	if m == nil {
		return
	}

	m.HealthCheckDuration.WithLabelValues(component).Observe(duration.Seconds())
	value := 0.0
	if healthy {
		value = 1
	}
	m.ComponentHealthy.WithLabelValues(component).Set(value)
}

// UpdateQueueDepth sets the current depth of a queue
func (m *Metrics) UpdateQueueDepth(queue string, depth int64) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// DepthFunc reports the current length of a queue
type DepthFunc func(ctx context.Context) (int64, error)

// Collector periodically samples queue depths into the QueueDepth gauge
type Collector struct {
	metrics  *Metrics
	interval time.Duration
	queues   map[string]DepthFunc
	stopCh   chan struct{}
}

// NewCollector creates a new queue depth collector
func NewCollector(metrics *Metrics, interval time.Duration, queues map[string]DepthFunc) *Collector {
	return &Collector{
		metrics:  metrics,
		interval: interval,
		queues:   queues,
		stopCh:   make(chan struct{}),
	}
}

// Start samples until ctx is cancelled or Stop is called
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Stop stops collection
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect takes one sample of every queue. Failed samples keep the previous value.
func (c *Collector) Collect(ctx context.Context) {
	for name, depth := range c.queues {
		n, err := depth(ctx)
		if err != nil {
			continue
		}
		c.metrics.UpdateQueueDepth(name, n)
	}
}
