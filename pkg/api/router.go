package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/pkg/api/handlers"
	"github.com/marmos91/shadowfs/pkg/metrics"
)

// RequestTimeout bounds every route except POST /api/v1/walk.
const RequestTimeout = 30 * time.Second

// NewRouter builds the control API:
//
//	GET  /health               liveness
//	GET  /health/ready         readiness
//	GET  /metrics              Prometheus exposition (404 when disabled)
//	GET  /api/v1/status        mount snapshot
//	PUT  /api/v1/standby       pause or resume migration
//	GET  /api/v1/pending       pending handles
//	POST /api/v1/control       binary control request
//	POST /api/v1/control/{op}  JSON control request
//	POST /api/v1/walk          migrate everything left
//
// The /api/v1 routes exist only when mount is not nil.
func NewRouter(mount handlers.Mount) http.Handler {
	var mountID string
	if mount != nil {
		mountID = mount.ID()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(mountID))
	r.Use(middleware.Recoverer)

	health := handlers.NewHealthHandler(mount)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(RequestTimeout))
		r.Get("/health", health.Liveness)
		r.Get("/health/ready", health.Readiness)
		// Resolved per request: metrics may be enabled after the router exists.
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
		})
	})

	if mount == nil {
		return r
	}

	h := handlers.NewMountHandler(mount)
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(RequestTimeout))
			r.Get("/status", h.Status)
			r.Put("/standby", h.SetStandby)
			r.Get("/pending", h.Pending)
			r.Post("/control", h.ControlBinary)
			r.Post("/control/{op}", h.Control)
		})
		r.Post("/walk", h.Walk)
	})
	return r
}

// requestLogger puts a LogContext for the mount on every request so handler
// logs carry the mount ID, then logs completion. Probe traffic logs at DEBUG.
func requestLogger(mountID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lc := logger.NewLogContext(mountID).WithOperation("api")
			ctx := logger.WithContext(r.Context(), lc)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			args := []any{
				"request_id", middleware.GetReqID(ctx),
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", lc.Elapsed().String(),
			}
			if isProbe(r.URL.Path) {
				logger.DebugCtx(ctx, "API request", args...)
			} else {
				logger.InfoCtx(ctx, "API request", args...)
			}
		})
	}
}

func isProbe(path string) bool {
	return path == "/metrics" || strings.HasPrefix(path, "/health")
}
