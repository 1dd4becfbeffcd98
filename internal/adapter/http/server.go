// Package http serves the device API, dashboard read models, the live
// websocket endpoint and the operational health and metrics routes.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/dashboard"
	"github.com/couchcryptid/hydroalert-service/internal/domain"
	"github.com/couchcryptid/hydroalert-service/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DeviceService accepts telemetry and registrations.
type DeviceService interface {
	Ingest(ctx context.Context, source string, t domain.Telemetry) (pipeline.IngestResult, error)
	RegisterDevice(ctx context.Context, deviceID string, location *domain.GeoPoint) (domain.Device, bool, error)
}

// DashboardService builds the operator read models.
type DashboardService interface {
	Summary(ctx context.Context) (dashboard.Summary, error)
	Monitoring(ctx context.Context) (dashboard.Monitoring, error)
	NotificationHistory(ctx context.Context, q dashboard.HistoryQuery) ([]dashboard.DateGroup, error)
}

// Deps are the handlers' collaborators. Live may be nil to disable /ws.
type Deps struct {
	Devices   DeviceService
	Dashboard DashboardService
	Live      http.Handler
	Ready     sharedobs.ReadinessChecker
}

// Server wraps the chi router in an http.Server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates the HTTP server and registers every route.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	h := &handlers{deps: deps, logger: logger}

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(deps.Ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/device/register", h.registerDevice)
		r.Post("/device/store-data", h.storeData)
		r.Get("/dashboard", h.summary)
		r.Get("/monitoring", h.monitoring)
		r.Get("/notifications", h.notificationHistory)
	})
	if deps.Live != nil {
		r.Handle("/ws", deps.Live)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// requestLogger logs one line per request at Debug, or Warn for 5xx.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
