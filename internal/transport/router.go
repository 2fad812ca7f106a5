package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ferreiralabs/settra/internal/config"
	"github.com/ferreiralabs/settra/internal/engine"
	"github.com/ferreiralabs/settra/internal/idempotency"
	"github.com/ferreiralabs/settra/internal/notify"
	"github.com/ferreiralabs/settra/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config     *config.Config
	Engine     *engine.Engine
	Dispatcher *notify.Dispatcher

	// Authenticate verifies the caller and stores claims in the context.
	// Nil disables authentication (tests only).
	Authenticate func(http.Handler) http.Handler

	// Idempotency caches advance results per client key. Nil disables
	// replay protection.
	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration

	Metrics   *observability.Metrics
	Readiness observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes — bypass authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext(deps.Config.Identity.ClaimPaths))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging)
		r.Use(observability.TracingMiddleware)
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Route("/api/transactions", func(r chi.Router) {
			r.Post("/", handleTransactionCreate(deps.Engine, deps.Metrics))
			r.Get("/", handleTransactionList(deps.Engine))

			r.Route("/{transactionId}", func(r chi.Router) {
				r.Get("/", handleTransactionGet(deps.Engine))
				r.Post("/advance", handleTransactionAdvance(deps.Engine, deps.Idempotency, deps.IdempotencyTTL, deps.Metrics))
				r.Post("/cancel", handleTransactionCancel(deps.Engine, deps.Metrics))
				r.Get("/history", handleTransactionHistory(deps.Engine))

				r.Post("/documents", handleDocumentAttach(deps.Engine, deps.Metrics))
				r.Post("/documents/{documentId}/approve", handleDocumentApprove(deps.Engine, deps.Metrics))
				r.Post("/documents/{documentId}/reject", handleDocumentReject(deps.Engine, deps.Metrics))
			})
		})

		r.Route("/api/notifications", func(r chi.Router) {
			r.Get("/", handleNotificationList(deps.Dispatcher))
			r.Post("/{notificationId}/read", handleNotificationRead(deps.Dispatcher))
		})
	})

	return r
}
