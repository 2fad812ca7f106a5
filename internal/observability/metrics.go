package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	stageDurationBuckets = []float64{60, 600, 3600, 21600, 86400, 259200, 604800}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Transaction lifecycle metrics
	TransactionStartsTotal      prometheus.Counter
	TransactionCompletionsTotal *prometheus.CounterVec
	TransactionActiveInstances  prometheus.Gauge
	StageAdvancesTotal          *prometheus.CounterVec
	StageDurationSeconds        *prometheus.HistogramVec
	ValidatorFaultsTotal        *prometheus.CounterVec
	DeadlineNotificationsTotal  *prometheus.CounterVec

	// Document metrics
	DocumentSubmissionsTotal *prometheus.CounterVec
	DocumentReviewsTotal     *prometheus.CounterVec

	// Notification metrics
	NotificationsDispatchedTotal *prometheus.CounterVec
	NotificationsDroppedTotal    prometheus.Counter

	// Idempotency metrics
	IdempotencyHitsTotal   prometheus.Counter
	IdempotencyMissesTotal prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settra_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settra_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settra_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settra_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Transaction lifecycle
		TransactionStartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settra_transaction_starts_total",
			Help: "Total number of transactions created.",
		}),
		TransactionCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settra_transaction_completions_total",
			Help: "Total number of transactions reaching a terminal status.",
		}, []string{"final_status"}),
		TransactionActiveInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "settra_transaction_active_instances",
			Help: "Number of in-progress transactions.",
		}),
		StageAdvancesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settra_stage_advances_total",
			Help: "Total number of advance attempts by stage and outcome.",
		}, []string{"stage", "outcome"}),
		StageDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settra_stage_duration_seconds",
			Help:    "Time spent in a stage before it is approved.",
			Buckets: stageDurationBuckets,
		}, []string{"stage"}),
		ValidatorFaultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settra_validator_faults_total",
			Help: "Total number of validator faults by stage.",
		}, []string{"stage"}),
		DeadlineNotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settra_deadline_notifications_total",
			Help: "Total number of deadline notifications by threshold.",
		}, []string{"threshold"}),

		// Documents
		DocumentSubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settra_document_submissions_total",
			Help: "Total number of document submissions by type.",
		}, []string{"document_type"}),
		DocumentReviewsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settra_document_reviews_total",
			Help: "Total number of document review decisions.",
		}, []string{"document_type", "decision"}),

		// Notifications
		NotificationsDispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settra_notifications_dispatched_total",
			Help: "Total number of notifications dispatched by type.",
		}, []string{"type"}),
		NotificationsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settra_notifications_dropped_total",
			Help: "Total number of notifications dropped by a full delivery queue.",
		}),

		// Idempotency
		IdempotencyHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settra_idempotency_hits_total",
			Help: "Total advance requests served from the idempotency cache.",
		}),
		IdempotencyMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settra_idempotency_misses_total",
			Help: "Total advance requests not found in the idempotency cache.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Transaction lifecycle
		m.TransactionStartsTotal,
		m.TransactionCompletionsTotal,
		m.TransactionActiveInstances,
		m.StageAdvancesTotal,
		m.StageDurationSeconds,
		m.ValidatorFaultsTotal,
		m.DeadlineNotificationsTotal,
		// Documents
		m.DocumentSubmissionsTotal,
		m.DocumentReviewsTotal,
		// Notifications
		m.NotificationsDispatchedTotal,
		m.NotificationsDroppedTotal,
		// Idempotency
		m.IdempotencyHitsTotal,
		m.IdempotencyMissesTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordTransactionStart records a transaction creation.
func (m *Metrics) RecordTransactionStart() {
	m.TransactionStartsTotal.Inc()
	m.TransactionActiveInstances.Inc()
}

// RecordTransactionCompletion records a transaction reaching a terminal status.
func (m *Metrics) RecordTransactionCompletion(finalStatus string) {
	m.TransactionCompletionsTotal.WithLabelValues(finalStatus).Inc()
	m.TransactionActiveInstances.Dec()
}

// RecordStageAdvance records an advance attempt outcome.
func (m *Metrics) RecordStageAdvance(stage, outcome string) {
	m.StageAdvancesTotal.WithLabelValues(stage, outcome).Inc()
}

// RecordStageDuration records the time spent in a stage.
func (m *Metrics) RecordStageDuration(stage string, duration time.Duration) {
	m.StageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordValidatorFault records a validator fault.
func (m *Metrics) RecordValidatorFault(stage string) {
	m.ValidatorFaultsTotal.WithLabelValues(stage).Inc()
}

// RecordDeadlineNotification records a deadline notification.
// Threshold is "approaching" or "exceeded".
func (m *Metrics) RecordDeadlineNotification(threshold string) {
	m.DeadlineNotificationsTotal.WithLabelValues(threshold).Inc()
}

// RecordDocumentSubmission records a document submission.
func (m *Metrics) RecordDocumentSubmission(documentType string) {
	m.DocumentSubmissionsTotal.WithLabelValues(documentType).Inc()
}

// RecordDocumentReview records a document review decision.
func (m *Metrics) RecordDocumentReview(documentType, decision string) {
	m.DocumentReviewsTotal.WithLabelValues(documentType, decision).Inc()
}

// RecordNotificationDispatched records a dispatched notification.
func (m *Metrics) RecordNotificationDispatched(typ string) {
	m.NotificationsDispatchedTotal.WithLabelValues(typ).Inc()
}

// RecordNotificationDropped records a notification dropped by a full queue.
func (m *Metrics) RecordNotificationDropped() {
	m.NotificationsDroppedTotal.Inc()
}

// RecordIdempotencyHit records an advance served from the idempotency cache.
func (m *Metrics) RecordIdempotencyHit() {
	m.IdempotencyHitsTotal.Inc()
}

// RecordIdempotencyMiss records an advance not found in the idempotency cache.
func (m *Metrics) RecordIdempotencyMiss() {
	m.IdempotencyMissesTotal.Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
