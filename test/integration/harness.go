package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ferreiralabs/settra/internal/config"
	"github.com/ferreiralabs/settra/internal/engine"
	"github.com/ferreiralabs/settra/internal/idempotency"
	"github.com/ferreiralabs/settra/internal/notify"
	"github.com/ferreiralabs/settra/internal/observability"
	"github.com/ferreiralabs/settra/internal/stage"
	"github.com/ferreiralabs/settra/internal/store"
	"github.com/ferreiralabs/settra/internal/transport"
	"github.com/ferreiralabs/settra/model"
)

// TestHarness wires the full service against an in-memory store and a local
// JWKS issuer, then serves it over httptest. Requests go through the real
// middleware chain, including JWT verification.
type TestHarness struct {
	t      *testing.T
	cfg    *config.Config
	issuer *tokenIssuer
	server *httptest.Server

	Engine     *engine.Engine
	Dispatcher *notify.Dispatcher
	Store      *store.MemoryStore
}

type harnessConfig struct {
	handlerTimeout time.Duration
	registry       *stage.Registry
	validators     *engine.Validators
}

// HarnessOption customizes harness construction.
type HarnessOption func(*harnessConfig)

// WithHandlerTimeout overrides the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(hc *harnessConfig) {
		hc.handlerTimeout = d
	}
}

// WithRegistry replaces the default stage pipeline.
func WithRegistry(r *stage.Registry) HarnessOption {
	return func(hc *harnessConfig) {
		hc.registry = r
	}
}

// WithValidator registers a stage validator before the engine is built.
func WithValidator(s model.Stage, v engine.Validator) HarnessOption {
	return func(hc *harnessConfig) {
		hc.validators.Register(s, v)
	}
}

// NewTestHarness builds the service and starts a test server. Cleanup is
// registered on t.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		registry:       stage.Default(),
		validators:     engine.NewValidators(),
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t}
	h.issuer = newTokenIssuer(t)

	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()
	h.cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	h.cfg.Observability.Metrics.Enabled = false

	logger := zap.NewNop()
	h.Store = store.NewMemoryStore()
	h.Dispatcher = notify.NewDispatcher(logger, h.cfg.Notifications.QueueSize)
	h.Engine = engine.New(hc.registry, h.Store, hc.validators, h.Dispatcher, logger)

	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), h.cfg.Identity.JWKSCacheTTL)

	router := transport.NewRouter(transport.Dependencies{
		Config:         h.cfg,
		Engine:         h.Engine,
		Dispatcher:     h.Dispatcher,
		Authenticate:   transport.JWTAuthenticator(h.cfg.Identity, jwks),
		Idempotency:    idempotency.NewMemoryStore(),
		IdempotencyTTL: h.cfg.Idempotency.Store.DefaultTTL,
		Readiness: observability.ReadinessChecks{
			PipelineLoaded: func() bool { return true },
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Default test claims ---

// BuyerClaims returns TestClaims for the buyer party.
func BuyerClaims() TestClaims {
	return TestClaims{
		SubjectID: "buyer-1",
		Email:     "buyer@fundo.example.com",
		Roles:     []string{"buyer"},
	}
}

// SellerClaims returns TestClaims for the seller party.
func SellerClaims() TestClaims {
	return TestClaims{
		SubjectID: "seller-1",
		Email:     "seller@credor.example.com",
		Roles:     []string{"seller"},
	}
}

// OperatorClaims returns TestClaims for a marketplace operator.
func OperatorClaims() TestClaims {
	return TestClaims{
		SubjectID: "operator-1",
		Email:     "ops@settra.example.com",
		Roles:     []string{"operator"},
	}
}

// ComplianceClaims returns TestClaims for a compliance reviewer.
func ComplianceClaims() TestClaims {
	return TestClaims{
		SubjectID: "compliance-1",
		Email:     "compliance@settra.example.com",
		Roles:     []string{"compliance"},
	}
}
