package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/logger"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/api/handlers"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/config"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/events"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/session"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/bus"
)

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - CORS for the browser frontend
//   - Request timeout on the JSON endpoints; the upload and event-stream
//     routes are exempt because they legitimately outlive it
//
// Routes:
//   - GET  /health - Liveness probe
//   - GET  /health/ready - Readiness probe
//   - POST /api/upload - Accept recording files
//   - POST /api/start-conversion - Begin the workflow
//   - POST /api/chat - Conversational turn
//   - POST /api/user-input - Structured metadata submission
//   - POST /api/retry-approval - Correction retry decision
//   - POST /api/improvement-decision - accept_as_is | improve
//   - GET  /api/status - Session snapshot
//   - GET  /api/validation - Last enriched validation report
//   - GET  /api/download/nwb - Stream current output
//   - GET  /api/download/report - Stream current report
//   - POST /api/reset - Zero the session
//   - GET  /events - SSE event stream
func NewRouter(cfg *config.Config, store *session.Store, wbus *bus.Bus, ebus *events.Bus) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	healthHandler := handlers.NewHealthHandler(store)
	workflowHandler := handlers.NewWorkflowHandler(store, wbus, cfg.Storage.UploadDir, int64(cfg.Server.MaxUploadSize))
	downloadHandler := handlers.NewDownloadHandler(store)
	eventsHandler := handlers.NewEventsHandler(ebus, cfg.Workflow.KeepAliveInterval)

	// Health routes
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	r.Route("/api", func(r chi.Router) {
		// Upload is exempt from the request timeout: multi-gigabyte
		// recordings take as long as they take.
		r.Post("/upload", workflowHandler.Upload)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

			r.Post("/start-conversion", workflowHandler.StartConversion)
			r.Post("/chat", workflowHandler.Chat)
			r.Post("/user-input", workflowHandler.UserInput)
			r.Post("/retry-approval", workflowHandler.RetryApproval)
			r.Post("/improvement-decision", workflowHandler.ImprovementDecision)
			r.Post("/reset", workflowHandler.Reset)

			r.Get("/status", workflowHandler.Status)
			r.Get("/validation", workflowHandler.Validation)
		})

		r.Get("/download/nwb", downloadHandler.NWB)
		r.Get("/download/report", downloadHandler.Report)
	})

	// Event stream - long-lived, exempt from the request timeout
	r.Get("/events", eventsHandler.Stream)

	return r
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
//   - Healthcheck requests are logged at DEBUG level to reduce noise
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		}

		// Log healthcheck requests at DEBUG to avoid polluting logs
		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}
