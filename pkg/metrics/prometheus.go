package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the windfarm service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Simulator
	samplesGenerated *prometheus.CounterVec
	bufferFill       *prometheus.GaugeVec
	faultsActive     *prometheus.GaugeVec
	turbineCount     prometheus.Gauge

	// Controller
	inferenceLatency  prometheus.Histogram
	inferenceErrors   *prometheus.CounterVec
	inferenceSkipped  *prometheus.CounterVec
	reconstructionErr *prometheus.GaugeVec
	anomaliesDetected *prometheus.CounterVec
	controllerFaults  *prometheus.CounterVec

	// Model / OTA
	modelSwaps      *prometheus.CounterVec
	otaState        prometheus.Gauge
	otaDownloadSize prometheus.Histogram
	activeModelInfo *prometheus.GaugeVec

	// Agent connectivity
	agentCalls *prometheus.CounterVec

	// Publication pipeline
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge
	queueEnqueue     prometheus.Counter
	queueDequeue     prometheus.Counter
	queueRejected    *prometheus.CounterVec
	workerCount      prometheus.Gauge
	workerLatency    prometheus.Histogram
	workerErrors     prometheus.Counter
	sinkWrites       *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "windfarm",
		subsystem:        "edge",
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

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	m.samplesGenerated = m.counterVec("samples_generated_total", "Sensor samples generated per turbine", "turbine")
	m.bufferFill = m.gaugeVec("ring_buffer_fill", "Samples currently held in each turbine ring buffer", "turbine")
	m.faultsActive = m.gaugeVec("faults_active", "Fault injection flag per turbine channel (1 = injecting)", "turbine", "channel")
	m.turbineCount = m.gauge("turbines", "Number of simulated turbines")

	m.inferenceLatency = m.histogram("inference_latency_milliseconds", "Latency of predict calls to the edge agent", m.histogramBuckets)
	m.inferenceErrors = m.counterVec("inference_errors_total", "Failed predict calls per turbine", "turbine")
	m.inferenceSkipped = m.counterVec("inference_skipped_total", "Ticks skipped per turbine and reason", "turbine", "reason")
	m.reconstructionErr = m.gaugeVec("reconstruction_error", "Last reconstruction error per turbine channel", "turbine", "channel")
	m.anomaliesDetected = m.counterVec("anomalies_total", "Anomalies flagged per turbine channel", "turbine", "channel")
	m.controllerFaults = m.counterVec("controller_faults_total", "Turbine loops that exceeded the retry budget", "turbine")

	m.modelSwaps = m.counterVec("model_swaps_total", "Model swap attempts by outcome", "outcome")
	m.otaState = m.gauge("ota_state", "Current OTA listener state (0 idle, 1 downloading, 2 swapping)")
	m.otaDownloadSize = m.histogram("ota_download_bytes", "Size of downloaded model packages", prometheus.ExponentialBuckets(1024, 4, 10))
	m.activeModelInfo = m.gaugeVec("active_model_info", "Active model (value 1) labelled by name and version", "name", "version")

	m.agentCalls = m.counterVec("agent_calls_total", "Edge agent RPCs by method and result", "method", "result")

	m.queueSize = m.gauge("queue_size", "Current size of the publication queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum publication queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Publication queue utilization (size / capacity)")
	m.queueEnqueue = m.counter("queue_enqueue_total", "Envelopes enqueued for publication")
	m.queueDequeue = m.counter("queue_dequeue_total", "Envelopes dequeued by publisher workers")
	m.queueRejected = m.counterVec("queue_rejected_total", "Envelopes rejected by the publication queue", "reason")
	m.workerCount = m.gauge("publisher_workers", "Number of publisher workers")
	m.workerLatency = m.histogram("publisher_latency_milliseconds", "Time to hand one envelope to all sinks", m.histogramBuckets)
	m.workerErrors = m.counter("publisher_errors_total", "Envelopes that failed on at least one sink")
	m.sinkWrites = m.counterVec("sink_writes_total", "Sink writes by sink and result", "sink", "result")

	m.httpRequests = promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by endpoint and method",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Simulator metrics.

// RecordSampleGenerated increments the generated samples counter for a turbine.
func RecordSampleGenerated(turbine string) {
	globalManager.samplesGenerated.WithLabelValues(turbine).Inc()
}

// UpdateBufferFill sets the number of samples buffered for a turbine.
func UpdateBufferFill(turbine string, n int) {
	globalManager.bufferFill.WithLabelValues(turbine).Set(float64(n))
}

// UpdateFaultActive records whether fault noise is injected on a channel.
func UpdateFaultActive(turbine, channel string, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	globalManager.faultsActive.WithLabelValues(turbine, channel).Set(v)
}

// UpdateTurbineCount sets the number of simulated turbines.
func UpdateTurbineCount(n int) {
	globalManager.turbineCount.Set(float64(n))
}

// Controller metrics.

// RecordInferenceLatency records predict latency in milliseconds.
func RecordInferenceLatency(latencyMs float64) {
	globalManager.inferenceLatency.Observe(latencyMs)
}

// RecordInferenceError increments the failed inference counter.
func RecordInferenceError(turbine string) {
	globalManager.inferenceErrors.WithLabelValues(turbine).Inc()
}

// RecordInferenceSkipped increments skipped ticks with a reason label.
func RecordInferenceSkipped(turbine, reason string) {
	globalManager.inferenceSkipped.WithLabelValues(turbine, reason).Inc()
}

// UpdateReconstructionError sets the latest error for a turbine channel.
func UpdateReconstructionError(turbine, channel string, v float64) {
	globalManager.reconstructionErr.WithLabelValues(turbine, channel).Set(v)
}

// RecordAnomaly increments the anomaly counter.
func RecordAnomaly(turbine, channel string) {
	globalManager.anomaliesDetected.WithLabelValues(turbine, channel).Inc()
}

// RecordControllerFault increments the controller fault counter.
func RecordControllerFault(turbine string) {
	globalManager.controllerFaults.WithLabelValues(turbine).Inc()
}

// Model and OTA metrics.

// RecordModelSwap counts a swap attempt; outcome is "success", "failed" or "rolled_back".
func RecordModelSwap(outcome string) {
	globalManager.modelSwaps.WithLabelValues(outcome).Inc()
}

// UpdateOTAState sets the OTA listener state gauge.
func UpdateOTAState(state int) {
	globalManager.otaState.Set(float64(state))
}

// RecordOTADownload observes the size of a downloaded package.
func RecordOTADownload(bytes int64) {
	globalManager.otaDownloadSize.Observe(float64(bytes))
}

// SetActiveModel replaces the active model info series.
func SetActiveModel(name, version string) {
	globalManager.activeModelInfo.Reset()
	if name != "" {
		globalManager.activeModelInfo.WithLabelValues(name, version).Set(1)
	}
}

// RecordAgentCall counts an edge agent RPC; result is "ok" or a short error class.
func RecordAgentCall(method, result string) {
	globalManager.agentCalls.WithLabelValues(method, result).Inc()
}

// Queue and publisher metrics.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueue.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeue.Inc()
}

// RecordQueueRejected increments rejected enqueues by reason.
func RecordQueueRejected(reason string) {
	globalManager.queueRejected.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the current publisher worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records publisher latency in milliseconds.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerLatency.Observe(latencyMs)
}

// RecordWorkerError increments the publisher error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordSinkWrite counts a sink write; result is "ok" or "error".
func RecordSinkWrite(sink, result string) {
	globalManager.sinkWrites.WithLabelValues(sink, result).Inc()
}

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records errors by component and type.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// System metrics.

// UpdateSystemMemoryUsage sets the system memory usage.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom registry used by the package-level recorders.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
