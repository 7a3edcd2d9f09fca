// Package metrics provides Prometheus metrics for the hiring bot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the bot.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Workflow
	commandsReceived   prometheus.Counter
	workflowTransition *prometheus.CounterVec
	workflowOutcome    *prometheus.CounterVec
	duplicateDelivery  *prometheus.CounterVec
	degradedStep       *prometheus.CounterVec

	// Outbound calls to chat, model, spreadsheet and provisioning services
	outboundRequests *prometheus.CounterVec
	outboundLatency  *prometheus.HistogramVec
	outboundRetries  *prometheus.CounterVec

	// Ledger
	ledgerOps     *prometheus.CounterVec
	ledgerLatency *prometheus.HistogramVec
	ledgerRecords *prometheus.GaugeVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker
	workerActiveCount       prometheus.Gauge
	workerMessagesPerSecond prometheus.Gauge
	workerProcessingLatency *prometheus.HistogramVec
	workerErrorRate         prometheus.Counter

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "hirebot",
		subsystem:        "",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) name(n string) string { return m.metricPrefix + n }

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels, Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	m.commandsReceived = m.counter("commands_received_total", "Slash commands accepted for processing")
	m.workflowTransition = m.counterVec("workflow_transitions_total", "Offer state transitions", "from", "to")
	m.workflowOutcome = m.counterVec("workflow_outcomes_total", "Workflow step outcomes by action", "action", "outcome")
	m.duplicateDelivery = m.counterVec("duplicate_deliveries_total", "Deliveries recognised as duplicates", "kind")
	m.degradedStep = m.counterVec("degraded_steps_total", "Steps that failed after the record was persisted", "step")

	m.outboundRequests = m.counterVec("outbound_requests_total", "Calls to external services", "service", "op", "outcome")
	m.outboundLatency = m.histogramVec("outbound_latency_seconds", "Latency of calls to external services", "service", "op")
	m.outboundRetries = m.counterVec("outbound_retries_total", "Retries scheduled against external services", "service")

	m.ledgerOps = m.counterVec("ledger_operations_total", "Ledger operations", "backend", "op", "outcome")
	m.ledgerLatency = m.histogramVec("ledger_latency_seconds", "Ledger operation latency", "backend", "op")
	m.ledgerRecords = promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name("ledger_records"), Help: "Offers held by the ledger per state", ConstLabels: m.customLabels,
	}, []string{"state"})

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.queueSize = m.gauge("queue_size", "Current size of the job queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (current size / capacity)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Jobs enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Jobs dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Rejected enqueues")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds", "Enqueue latency in milliseconds", m.histogramBuckets)

	m.workerActiveCount = m.gauge("worker_active_count", "Number of workers")
	m.workerMessagesPerSecond = m.gauge("worker_messages_per_second", "Average jobs processed per second")
	m.workerProcessingLatency = m.histogramVec("worker_processing_latency_seconds", "Job processing latency", "kind")
	m.workerErrorRate = m.counter("worker_errors_total", "Jobs that ended in error")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Errors by type", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by endpoint", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds", "Latency of operations that resulted in errors", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordCommandReceived counts an accepted slash command.
func RecordCommandReceived() { globalManager.commandsReceived.Inc() }

// RecordTransition counts an offer state change.
func RecordTransition(from, to string) {
	globalManager.workflowTransition.WithLabelValues(from, to).Inc()
}

// RecordOutcome counts how a workflow action ended (ok, duplicate, degraded, failed, rejected).
func RecordOutcome(action, outcome string) {
	globalManager.workflowOutcome.WithLabelValues(action, outcome).Inc()
}

// RecordDuplicate counts a duplicate delivery of kind.
func RecordDuplicate(kind string) { globalManager.duplicateDelivery.WithLabelValues(kind).Inc() }

// RecordDegraded counts a post-durability failure of step.
func RecordDegraded(step string) { globalManager.degradedStep.WithLabelValues(step).Inc() }

// ObserveOutbound records one call to an external service.
func ObserveOutbound(service, op, outcome string, d time.Duration) {
	globalManager.outboundRequests.WithLabelValues(service, op, outcome).Inc()
	globalManager.outboundLatency.WithLabelValues(service, op).Observe(d.Seconds())
}

// RecordRetry counts a scheduled retry against service.
func RecordRetry(service string) { globalManager.outboundRetries.WithLabelValues(service).Inc() }

// ObserveLedger records one ledger operation.
func ObserveLedger(backend, op, outcome string, d time.Duration) {
	globalManager.ledgerOps.WithLabelValues(backend, op, outcome).Inc()
	globalManager.ledgerLatency.WithLabelValues(backend, op).Observe(d.Seconds())
}

// UpdateLedgerRecords sets the number of offers held in state.
func UpdateLedgerRecords(state string, n int) {
	globalManager.ledgerRecords.WithLabelValues(state).Set(float64(n))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueueRate.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeueRate.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// RecordQueueProcessingLatency records queue processing latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// UpdateWorkerActiveCount sets the number of workers.
func UpdateWorkerActiveCount(count int) { globalManager.workerActiveCount.Set(float64(count)) }

// UpdateWorkerMessagesPerSecond sets the average jobs processed per second.
func UpdateWorkerMessagesPerSecond(rate float64) { globalManager.workerMessagesPerSecond.Set(rate) }

// ObserveJob records how long a job of kind took.
func ObserveJob(kind string, d time.Duration) {
	globalManager.workerProcessingLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrorRate.Inc() }

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
