// Package metrics provides Prometheus metrics for the fleetguard decision pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Pipeline
	pipelineRuns        *prometheus.CounterVec
	pipelineLatency     prometheus.Histogram
	stageLatency        *prometheus.HistogramVec
	stageFailures       *prometheus.CounterVec
	degradedPredictions *prometheus.CounterVec
	predictions         *prometheus.CounterVec
	alertsTriggered     *prometheus.CounterVec
	healthStates        *prometheus.CounterVec
	riskScore           prometheus.Histogram

	// Ingestion
	telemetryIngested *prometheus.CounterVec
	telemetryRejected *prometheus.CounterVec

	// Storage
	storeLatency      *prometheus.HistogramVec
	storeErrors       *prometheus.CounterVec
	cacheMirrorErrors *prometheus.CounterVec

	// Queue
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge
	queueEnqueued    prometheus.Counter
	queueDequeued    prometheus.Counter
	queueRejected    *prometheus.CounterVec

	// Workers
	workerCount             prometheus.Gauge
	workerMessagesPerSecond prometheus.Gauge
	workerLatency           prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var (
	globalManager  *Manager                    //nolint:gochecknoglobals // singleton metrics manager
	customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // avoids default Go collectors
)

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "fleetguard",
		subsystem:        "pipeline",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.pipelineRuns = m.counterVec("runs_total", "Pipeline runs by outcome (ok, degraded, failed)", "outcome")
	m.pipelineLatency = m.histogram("run_latency_milliseconds", "End-to-end pipeline run latency", m.histogramBuckets)
	m.stageLatency = m.histogramVec("stage_latency_milliseconds", "Latency of each pipeline stage", "stage")
	m.stageFailures = m.counterVec("stage_failures_total", "Stage failures by stage and error kind", "stage", "kind")
	m.degradedPredictions = m.counterVec("degraded_predictions_total", "Predictions emitted in degraded form", "reason")
	m.predictions = m.counterVec("predictions_total", "Predictions by label", "label")
	m.alertsTriggered = m.counterVec("alerts_triggered_total", "Alerts raised by rule and severity", "rule", "severity")
	m.healthStates = m.counterVec("health_state_updates_total", "Vehicle health updates by resulting state", "state")
	m.riskScore = m.histogram("risk_score", "Distribution of computed risk scores",
		[]float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0})

	m.telemetryIngested = m.counterVec("telemetry_ingested_total", "Telemetry readings accepted by format", "format")
	m.telemetryRejected = m.counterVec("telemetry_rejected_total", "Telemetry readings rejected by reason", "reason")

	m.storeLatency = m.histogramVec("store_operation_latency_milliseconds", "Store operation latency", "op", "collection")
	m.storeErrors = m.counterVec("store_errors_total", "Store operation failures", "op", "collection")
	m.cacheMirrorErrors = m.counterVec("cache_mirror_errors_total", "Failures mirroring records to the cache", "op")

	m.queueSize = m.gauge("queue_size", "Current number of readings waiting in the queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (size / capacity)")
	m.queueEnqueued = m.counter("queue_enqueue_total", "Readings enqueued")
	m.queueDequeued = m.counter("queue_dequeue_total", "Readings dequeued")
	m.queueRejected = m.counterVec("queue_enqueue_errors_total", "Readings the queue refused", "reason")

	m.workerCount = m.gauge("worker_count", "Workers running in the pool")
	m.workerMessagesPerSecond = m.gauge("worker_messages_per_second", "Readings processed per second by the pool")
	m.workerLatency = m.histogram("worker_processing_latency_milliseconds", "Worker processing latency", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Readings the workers failed to process")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap memory in use")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// RecordPipelineRun counts a finished run and observes its latency.
func RecordPipelineRun(outcome string, latencyMs float64) {
	globalManager.pipelineRuns.WithLabelValues(outcome).Inc()
	globalManager.pipelineLatency.Observe(latencyMs)
}

// RecordStageLatency observes the latency of one stage.
func RecordStageLatency(stage string, latencyMs float64) {
	globalManager.stageLatency.WithLabelValues(stage).Observe(latencyMs)
}

// RecordStageFailure counts a stage failure.
func RecordStageFailure(stage, kind string) {
	globalManager.stageFailures.WithLabelValues(stage, kind).Inc()
}

// RecordDegradedPrediction counts a prediction emitted without a usable model output.
func RecordDegradedPrediction(reason string) {
	globalManager.degradedPredictions.WithLabelValues(reason).Inc()
}

// RecordPrediction counts a prediction by label.
func RecordPrediction(label string) {
	globalManager.predictions.WithLabelValues(label).Inc()
}

// RecordAlert counts a triggered rule.
func RecordAlert(rule, severity string) {
	globalManager.alertsTriggered.WithLabelValues(rule, severity).Inc()
}

// RecordHealthState counts a health upsert by resulting state.
func RecordHealthState(state string) {
	globalManager.healthStates.WithLabelValues(state).Inc()
}

// RecordRiskScore observes a computed risk score.
func RecordRiskScore(score float64) {
	globalManager.riskScore.Observe(score)
}

// RecordTelemetryIngested counts an accepted reading.
func RecordTelemetryIngested(format string) {
	globalManager.telemetryIngested.WithLabelValues(format).Inc()
}

// RecordTelemetryRejected counts a rejected reading.
func RecordTelemetryRejected(reason string) {
	globalManager.telemetryRejected.WithLabelValues(reason).Inc()
}

// RecordStoreOperation observes a store call; failed calls are also counted.
func RecordStoreOperation(op, collection string, latencyMs float64, failed bool) {
	globalManager.storeLatency.WithLabelValues(op, collection).Observe(latencyMs)
	if failed {
		globalManager.storeErrors.WithLabelValues(op, collection).Inc()
	}
}

// RecordCacheMirrorError counts a failed cache write or publish.
func RecordCacheMirrorError(op string) {
	globalManager.cacheMirrorErrors.WithLabelValues(op).Inc()
}

// UpdateQueueState sets queue size, capacity and utilization.
func UpdateQueueState(size, capacity int) {
	globalManager.queueSize.Set(float64(size))
	globalManager.queueCapacity.Set(float64(capacity))
	if capacity > 0 {
		globalManager.queueUtilization.Set(float64(size) / float64(capacity))
	}
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueRejected counts a refused enqueue.
func RecordQueueRejected(reason string) {
	globalManager.queueRejected.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the number of pool workers.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// UpdateWorkerMessagesPerSecond sets the pool throughput.
func UpdateWorkerMessagesPerSecond(rate float64) { globalManager.workerMessagesPerSecond.Set(rate) }

// RecordWorkerProcessingLatency observes worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) { globalManager.workerLatency.Observe(latencyMs) }

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// RecordHTTPRequest records a request and its duration.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
