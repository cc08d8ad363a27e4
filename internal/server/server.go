// Package server provides the HTTP API of the execution engine.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/engine"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/event"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/logging"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/metrics"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

// Config holds server configuration.
type Config struct {
	Port         int
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// RatePerMinute limits executions per user. Zero disables the gate.
	RatePerMinute float64
	RateBurst     int
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for SSE
	}
}

// ConfigFrom maps the server section of the configuration.
func ConfigFrom(c types.ServerConfig) *Config {
	cfg := DefaultConfig()
	if c.Port > 0 {
		cfg.Port = c.Port
	}
	cfg.EnableCORS = c.EnableCORS
	cfg.RatePerMinute = c.RatePerMin
	cfg.RateBurst = c.RateBurst
	return cfg
}

// Server is the HTTP server.
type Server struct {
	config  *Config
	router  *chi.Mux
	httpSrv *http.Server
	engine  *engine.Engine
	bus     *event.Bus
	metrics *metrics.Metrics
	limiter *userLimiter
	logger  zerolog.Logger
}

// New creates a new Server instance. bus and m may be nil.
func New(cfg *Config, eng *engine.Engine, bus *event.Bus, m *metrics.Metrics) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		config:  cfg,
		router:  chi.NewRouter(),
		engine:  eng,
		bus:     bus,
		metrics: m,
		limiter: newUserLimiter(cfg.RatePerMinute, cfg.RateBurst),
		logger:  logging.Component("server"),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", HeaderUserID},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// requestLogger logs each request through zerolog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("requestID", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info().Int("port", s.config.Port).Msg("server listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
