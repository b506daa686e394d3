// Package metrics provides Prometheus metrics for the attendance service.
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
	registry         prometheus.Registerer

	// Clock-in
	clockinTransitions    *prometheus.CounterVec
	identificationFailure *prometheus.CounterVec
	attendanceCommitted   prometheus.Counter
	attendanceDuplicate   prometheus.Counter
	activeSlot            prometheus.Gauge

	// Ledger
	ledgerLatency     *prometheus.HistogramVec
	ledgerUnavailable prometheus.Counter

	// Compliance
	complianceDuration prometheus.Histogram
	compliantAgencies  prometheus.Gauge

	// Sessions
	activeSessions   prometheus.Gauge
	sessionWarnings  prometheus.Counter
	sessionExpiries  prometheus.Counter
	sessionsStarted  prometheus.Counter
	remindersEmitted *prometheus.CounterVec

	// Planning
	planningWrites *prometheus.CounterVec

	// Notifications
	notificationsQueued    prometheus.Counter
	notificationsDropped   prometheus.Counter
	notificationsDelivered *prometheus.CounterVec
	queueSize              prometheus.Gauge
	workerCount            prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec

	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton used by package-level recorders

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // keeps default Go collectors out

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "pointage",
		subsystem:        "attendance",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.clockinTransitions = m.counterVec("clockin_transitions_total",
		"Clock-in state machine transitions by operation and outcome", "operation", "outcome")
	m.identificationFailure = m.counterVec("identification_failures_total",
		"Rejected identifications by reason", "reason")
	m.attendanceCommitted = m.counter("records_committed_total",
		"Attendance records written by the kiosks")
	m.attendanceDuplicate = m.counter("records_duplicate_total",
		"Commits rejected because the slot was already recorded")
	m.activeSlot = m.gauge("active_slot_index",
		"Index of the currently active time slot, -1 when none")

	m.ledgerLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ledger_latency_milliseconds",
		Help:      "Latency of ledger reads and writes in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"operation"})
	m.ledgerUnavailable = m.counter("ledger_unavailable_total",
		"Ledger calls that failed or timed out")

	m.complianceDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "compliance_report_duration_milliseconds",
		Help:      "Time spent building a compliance report in milliseconds",
		Buckets:   m.histogramBuckets,
	})
	m.compliantAgencies = m.gauge("compliant_agencies",
		"Compliant agencies in the most recent report")

	m.activeSessions = m.gauge("sessions_active", "Supervisory sessions currently alive")
	m.sessionsStarted = m.counter("sessions_started_total", "Supervisory sessions started")
	m.sessionWarnings = m.counter("session_warnings_total", "Expiry warnings emitted")
	m.sessionExpiries = m.counter("session_expiries_total", "Sessions force-closed by the watchdog")
	m.remindersEmitted = m.counterVec("slot_reminders_total", "Slot reminders emitted by kind", "kind")

	m.planningWrites = m.counterVec("planning_writes_total",
		"Planning changes by operation and outcome", "operation", "outcome")

	m.notificationsQueued = m.counter("notifications_queued_total", "Notifications accepted by the dispatcher")
	m.notificationsDropped = m.counter("notifications_dropped_total", "Notifications dropped on a full queue")
	m.notificationsDelivered = m.counterVec("notifications_delivered_total",
		"Notifications handed to sinks by severity", "severity")
	m.queueSize = m.gauge("notification_queue_size", "Current notification backlog")
	m.workerCount = m.gauge("notification_workers", "Notification workers running")

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = m.counterVec("errors_by_component_total",
		"Errors by component and kind", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap in use in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// RecordTransition counts a state machine operation and its outcome.
func RecordTransition(operation, outcome string) {
	globalManager.clockinTransitions.WithLabelValues(operation, outcome).Inc()
}

// RecordIdentificationFailure counts a rejected identification.
func RecordIdentificationFailure(reason string) {
	globalManager.identificationFailure.WithLabelValues(reason).Inc()
}

func RecordAttendanceCommitted() { globalManager.attendanceCommitted.Inc() }
func RecordAttendanceDuplicate() { globalManager.attendanceDuplicate.Inc() }

// UpdateActiveSlot publishes the active slot index (-1 for none).
func UpdateActiveSlot(index int) {
	globalManager.activeSlot.Set(float64(index))
}

// RecordLedgerLatency records a ledger call duration in milliseconds.
func RecordLedgerLatency(operation string, latencyMs float64) {
	globalManager.ledgerLatency.WithLabelValues(operation).Observe(latencyMs)
}

func RecordLedgerUnavailable() { globalManager.ledgerUnavailable.Inc() }

// RecordComplianceDuration records how long a report took in milliseconds.
func RecordComplianceDuration(latencyMs float64) {
	globalManager.complianceDuration.Observe(latencyMs)
}

func UpdateCompliantAgencies(count int) { globalManager.compliantAgencies.Set(float64(count)) }

func UpdateActiveSessions(count int) { globalManager.activeSessions.Set(float64(count)) }
func RecordSessionStarted()          { globalManager.sessionsStarted.Inc() }
func RecordSessionWarning()          { globalManager.sessionWarnings.Inc() }
func RecordSessionExpired()          { globalManager.sessionExpiries.Inc() }

// RecordReminder counts an emitted slot reminder ("start" or "end").
func RecordReminder(kind string) {
	globalManager.remindersEmitted.WithLabelValues(kind).Inc()
}

// RecordPlanningWrite counts a planning change (add, remove, substitute, copy).
func RecordPlanningWrite(operation, outcome string) {
	globalManager.planningWrites.WithLabelValues(operation, outcome).Inc()
}

func RecordNotificationQueued()  { globalManager.notificationsQueued.Inc() }
func RecordNotificationDropped() { globalManager.notificationsDropped.Inc() }

// RecordNotificationDelivered counts a notification handed to the sinks.
func RecordNotificationDelivered(severity string) {
	globalManager.notificationsDelivered.WithLabelValues(severity).Inc()
}

func UpdateQueueSize(size int)    { globalManager.queueSize.Set(float64(size)) }
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the registry backing the package-level recorders.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
