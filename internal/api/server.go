package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/orbitrack/internal/auth"
	"github.com/star/orbitrack/internal/frames"
	"github.com/star/orbitrack/internal/health"
	"github.com/star/orbitrack/internal/httputil"
	"github.com/star/orbitrack/internal/metrics"
	"github.com/star/orbitrack/internal/stream"
	"github.com/star/orbitrack/internal/tracker"
)

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server. streamHandler may be nil to
// leave the change stream unrouted; ready backs /readyz.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, trk *tracker.Tracker, orch *frames.Orchestrator, streamHandler *stream.Handler, ready func() bool) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           newHandler(logger, authCfg, trk, orch, streamHandler, ready),
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			// Reconcile requests wait out the sweep delay and the upstream
			// fetches; the SSE handler clears its own deadline.
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

func newHandler(logger *slog.Logger, authCfg auth.Config, trk *tracker.Tracker, orch *frames.Orchestrator, streamHandler *stream.Handler, ready func() bool) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(ready))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/tracked", trackedListHandler(trk))
	mux.HandleFunc("PUT /api/v1/tracked", reconcileHandler(logger, trk))
	mux.HandleFunc("GET /api/v1/states", statesHandler(logger, trk))
	mux.HandleFunc("GET /api/v1/satellites/{norad_id}/state", stateHandler(logger, trk))
	mux.HandleFunc("GET /api/v1/satellites/{norad_id}/hidden", hiddenHandler(trk))
	mux.HandleFunc("POST /api/v1/satellites/{norad_id}/hide", visibilityHandler(trk, true))
	mux.HandleFunc("POST /api/v1/satellites/{norad_id}/show", visibilityHandler(trk, false))
	mux.HandleFunc("POST /api/v1/satellites/{norad_id}/refresh", refreshHandler(logger, trk))
	mux.HandleFunc("GET /api/v1/satellites/{norad_id}/passes", passesHandler(logger, trk))
	mux.HandleFunc("GET /api/v1/passes", allPassesHandler(logger, trk))

	mux.HandleFunc("GET /api/v1/frames", framesHandler(orch))
	mux.HandleFunc("POST /api/v1/frames/rotate", rotateHandler(logger, orch))

	if streamHandler != nil {
		mux.HandleFunc("GET /api/v1/stream/changes", streamHandler.HandleChanges)
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)
	return handler
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush lets the change stream flush through the logging middleware.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", httputil.ClientIP(r, false),
			)
		})
	}
}
