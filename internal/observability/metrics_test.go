package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	expected := []string{
		"settra_http_requests_total",
		"settra_http_request_duration_seconds",
		"settra_http_request_size_bytes",
		"settra_http_response_size_bytes",
		"settra_transaction_starts_total",
		"settra_transaction_completions_total",
		"settra_transaction_active_instances",
		"settra_stage_advances_total",
		"settra_stage_duration_seconds",
		"settra_validator_faults_total",
		"settra_deadline_notifications_total",
		"settra_document_submissions_total",
		"settra_document_reviews_total",
		"settra_notifications_dispatched_total",
		"settra_notifications_dropped_total",
		"settra_idempotency_hits_total",
		"settra_idempotency_misses_total",
	}

	// Record a value for each metric so they appear in Gather.
	m.RecordHTTPRequest("GET", "/test", 200, time.Millisecond, 0, 100)
	m.RecordTransactionStart()
	m.RecordTransactionCompletion("completed")
	m.RecordStageAdvance("buyer_validation", "advanced")
	m.RecordStageDuration("buyer_validation", time.Hour)
	m.RecordValidatorFault("buyer_validation")
	m.RecordDeadlineNotification("approaching")
	m.RecordDocumentSubmission("identity")
	m.RecordDocumentReview("identity", "approved")
	m.RecordNotificationDispatched("stage_started")
	m.RecordNotificationDropped()
	m.RecordIdempotencyHit()
	m.RecordIdempotencyMiss()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordHTTPRequest("GET", "/api/transactions/{transactionId}", 200, 50*time.Millisecond, 0, 1024)
	m.RecordHTTPRequest("GET", "/api/transactions/{transactionId}", 200, 100*time.Millisecond, 0, 2048)
	m.RecordHTTPRequest("POST", "/api/transactions", 500, 200*time.Millisecond, 512, 256)

	// Verify counter values.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/transactions/{transactionId}", "200"))
	if val != 2 {
		t.Errorf("GET requests = %v, want 2", val)
	}
	val = testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/transactions", "500"))
	if val != 1 {
		t.Errorf("POST requests = %v, want 1", val)
	}
}

func TestRecordTransactionLifecycle(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordTransactionStart()
	active := testutil.ToFloat64(m.TransactionActiveInstances)
	if active != 1 {
		t.Errorf("active instances = %v, want 1", active)
	}

	m.RecordStageAdvance("buyer_validation", "advanced")
	advances := testutil.ToFloat64(m.StageAdvancesTotal.WithLabelValues("buyer_validation", "advanced"))
	if advances != 1 {
		t.Errorf("advances = %v, want 1", advances)
	}

	m.RecordTransactionCompletion("completed")
	active = testutil.ToFloat64(m.TransactionActiveInstances)
	if active != 0 {
		t.Errorf("active instances after completion = %v, want 0", active)
	}

	completions := testutil.ToFloat64(m.TransactionCompletionsTotal.WithLabelValues("completed"))
	if completions != 1 {
		t.Errorf("completions = %v, want 1", completions)
	}
}

func TestRecordStageAdvanceOutcomes(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordStageAdvance("payment", "blocked")
	m.RecordStageAdvance("payment", "blocked")
	m.RecordStageAdvance("payment", "advanced")

	blocked := testutil.ToFloat64(m.StageAdvancesTotal.WithLabelValues("payment", "blocked"))
	if blocked != 2 {
		t.Errorf("blocked = %v, want 2", blocked)
	}
	advanced := testutil.ToFloat64(m.StageAdvancesTotal.WithLabelValues("payment", "advanced"))
	if advanced != 1 {
		t.Errorf("advanced = %v, want 1", advanced)
	}
}

func TestRecordStageDuration(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordStageDuration("legal_validation", 48*time.Hour)

	count := testutil.CollectAndCount(m.StageDurationSeconds)
	if count == 0 {
		t.Error("expected stage duration histogram to have observations")
	}
}

func TestRecordValidatorFault(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordValidatorFault("financial_validation")
	m.RecordValidatorFault("financial_validation")

	val := testutil.ToFloat64(m.ValidatorFaultsTotal.WithLabelValues("financial_validation"))
	if val != 2 {
		t.Errorf("validator faults = %v, want 2", val)
	}
}

func TestRecordDeadlineNotification(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordDeadlineNotification("approaching")
	m.RecordDeadlineNotification("exceeded")

	approaching := testutil.ToFloat64(m.DeadlineNotificationsTotal.WithLabelValues("approaching"))
	if approaching != 1 {
		t.Errorf("approaching = %v, want 1", approaching)
	}
	exceeded := testutil.ToFloat64(m.DeadlineNotificationsTotal.WithLabelValues("exceeded"))
	if exceeded != 1 {
		t.Errorf("exceeded = %v, want 1", exceeded)
	}
}

func TestRecordDocumentMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordDocumentSubmission("identity")
	m.RecordDocumentReview("identity", "approved")
	m.RecordDocumentReview("identity", "rejected")

	submissions := testutil.ToFloat64(m.DocumentSubmissionsTotal.WithLabelValues("identity"))
	if submissions != 1 {
		t.Errorf("submissions = %v, want 1", submissions)
	}
	approved := testutil.ToFloat64(m.DocumentReviewsTotal.WithLabelValues("identity", "approved"))
	if approved != 1 {
		t.Errorf("approved reviews = %v, want 1", approved)
	}
}

func TestRecordNotificationMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordNotificationDispatched("stage_started")
	m.RecordNotificationDispatched("stage_started")
	m.RecordNotificationDropped()

	dispatched := testutil.ToFloat64(m.NotificationsDispatchedTotal.WithLabelValues("stage_started"))
	if dispatched != 2 {
		t.Errorf("dispatched = %v, want 2", dispatched)
	}
	dropped := testutil.ToFloat64(m.NotificationsDroppedTotal)
	if dropped != 1 {
		t.Errorf("dropped = %v, want 1", dropped)
	}
}

func TestRecordIdempotencyMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordIdempotencyHit()
	m.RecordIdempotencyHit()
	m.RecordIdempotencyMiss()

	hits := testutil.ToFloat64(m.IdempotencyHitsTotal)
	if hits != 2 {
		t.Errorf("hits = %v, want 2", hits)
	}
	misses := testutil.ToFloat64(m.IdempotencyMissesTotal)
	if misses != 1 {
		t.Errorf("misses = %v, want 1", misses)
	}
}

func TestMetricsMiddleware_recordsRequestMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Build a chi router so route patterns are captured.
	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/api/transactions/{transactionId}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/transactions/tx-1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	// Verify metrics were recorded with the route pattern, not the actual path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/transactions/{transactionId}", "200"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
}

func TestMetricsMiddleware_capturesResponseSize(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("healthy"))
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	// Response size should have been recorded.
	count := testutil.CollectAndCount(m.HTTPResponseSizeBytes)
	if count == 0 {
		t.Error("expected response size histogram to have observations")
	}
}

func TestMetricsMiddleware_capturesStatusCode(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Post("/api/transactions/{transactionId}/advance", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/transactions/tx-1/advance", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/transactions/{transactionId}/advance", "400"))
	if val != 1 {
		t.Errorf("400 requests = %v, want 1", val)
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Use middleware directly without chi router.
	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/raw/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Without chi, should fall back to raw path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200"))
	if val != 1 {
		t.Errorf("raw path requests = %v, want 1", val)
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	handler := Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	// Prometheus handler should return at least go runtime metrics.
	if !strings.Contains(body, "go_") {
		t.Error("metrics response should contain go runtime metrics")
	}
}

func TestHistogramBuckets(t *testing.T) {
	// Verify bucket configurations are correct.
	if len(httpDurationBuckets) != 11 {
		t.Errorf("httpDurationBuckets length = %d, want 11", len(httpDurationBuckets))
	}
	if len(stageDurationBuckets) != 7 {
		t.Errorf("stageDurationBuckets length = %d, want 7", len(stageDurationBuckets))
	}
	if len(bodySizeBuckets) != 5 {
		t.Errorf("bodySizeBuckets length = %d, want 5", len(bodySizeBuckets))
	}

	// Verify buckets are sorted ascending.
	for i := 1; i < len(httpDurationBuckets); i++ {
		if httpDurationBuckets[i] <= httpDurationBuckets[i-1] {
			t.Errorf("httpDurationBuckets not sorted at index %d", i)
		}
	}
}
