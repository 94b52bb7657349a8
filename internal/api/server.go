// Package api exposes the operational HTTP surface of the notification
// service: health checks, metrics, the delivery tracking webhook and channel admin.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notification-workers/internal/common/logger"
	"notification-workers/internal/delivery"
	"notification-workers/internal/dispatch"
	"notification-workers/internal/models"
	"notification-workers/internal/templates"
)

type Config struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrackingBuffer  int           `mapstructure:"tracking_buffer"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

func DefaultConfig() Config {
	return Config{
		Port:            8080,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		TrackingBuffer:  1024,
		AllowedOrigins:  []string{"*"},
	}
}

type ChannelAdmin interface {
	TrackingRecorder
	GetAllChannelHealth() map[models.Channel]models.ChannelHealth
	ResetChannelHealth(ch models.Channel) error
	GetStats() delivery.StatsReport
}

type TemplateMetrics interface {
	GetPerformanceMetrics() map[string]templates.OperationMetrics
	CacheSize() int
}

type NotificationDispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

type AuditReader interface {
	EventsForNotification(ctx context.Context, notificationID string, size int) ([]delivery.Event, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Dependencies wires the server to the services it exposes. Dispatcher,
// Audit and Checks are optional.
type Dependencies struct {
	Channels   ChannelAdmin
	Templates  TemplateMetrics
	Dispatcher NotificationDispatcher
	Audit      AuditReader
	Checks     map[string]ReadinessCheck
}

type Server struct {
	config   Config
	deps     Dependencies
	tracking *trackingQueue
	logger   logger.Logger
	http     *http.Server
	router   chi.Router
}

func NewServer(config Config, deps Dependencies, log logger.Logger) *Server {
	if config.Port == 0 {
		config.Port = DefaultConfig().Port
	}
	log = logger.ForComponent(log, "api")
	s := &Server{
		config:   config,
		deps:     deps,
		tracking: newTrackingQueue(deps.Channels, config.TrackingBuffer, log),
		logger:   log,
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/webhooks/delivery-tracking", s.handleTrackingWebhook)

	r.Route("/channels", func(r chi.Router) {
		r.Get("/health", s.handleChannelHealth)
		r.Get("/stats", s.handleChannelStats)
		r.Post("/{channel}/reset", s.handleChannelReset)
	})

	r.Get("/templates/metrics", s.handleTemplateMetrics)

	r.Route("/notifications", func(r chi.Router) {
		r.Post("/", s.handleDispatch)
		r.Get("/{id}/events", s.handleNotificationEvents)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request", map[string]interface{}{
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    ww.Status(),
			"duration":  time.Since(start).String(),
			"requestId": middleware.GetReqID(r.Context()),
		})
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", map[string]interface{}{"addr": s.http.Addr})
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.tracking.close()
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := s.http.Shutdown(shutdownCtx)
	s.tracking.close()
	return err
}

// Close drains pending tracking events without touching the listener.
func (s *Server) Close() {
	s.tracking.close()
}
