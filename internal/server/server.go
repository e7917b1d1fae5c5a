// Package server provides the gateway's HTTP surface: the /rfc call
// endpoint, health endpoints and the middleware chain in front of them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avarfc/internal/audit"
	"github.com/vyrodovalexey/avarfc/internal/auth"
	"github.com/vyrodovalexey/avarfc/internal/config"
	"github.com/vyrodovalexey/avarfc/internal/health"
	"github.com/vyrodovalexey/avarfc/internal/observability"
	"github.com/vyrodovalexey/avarfc/internal/rfc"
	"github.com/vyrodovalexey/avarfc/internal/server/middleware"
)

// ginModeOnce ensures gin.SetMode is only called once.
var ginModeOnce sync.Once

// Metrics is what the server records about requests.
type Metrics interface {
	middleware.RequestRecorder
	middleware.RateLimitRecorder
}

// Server is the gateway HTTP server.
type Server struct {
	cfg          config.ServerConfig
	rateLimit    config.RateLimitConfig
	engine       *gin.Engine
	httpServer   *http.Server
	caller       atomic.Value
	statusPolicy rfc.StatusPolicy
	credentials  CredentialSource
	guard        *auth.Guard
	checker      *health.Checker
	audit        audit.Store
	metrics      Metrics
	logger       observability.Logger

	mu      sync.Mutex
	running bool
}

type callerBox struct {
	Caller
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics enables request metrics.
func WithMetrics(m Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithRateLimit enables the inbound rate limit when cfg.Enabled is set.
func WithRateLimit(cfg config.RateLimitConfig) Option {
	return func(s *Server) {
		s.rateLimit = cfg
	}
}

// WithGuard enables authentication and authorization of /rfc requests.
func WithGuard(g *auth.Guard) Option {
	return func(s *Server) {
		s.guard = g
	}
}

// WithCredentials sets the per destination credential providers.
func WithCredentials(src CredentialSource) Option {
	return func(s *Server) {
		s.credentials = src
	}
}

// WithChecker sets the health checker behind /health, /ready and /live.
func WithChecker(c *health.Checker) Option {
	return func(s *Server) {
		s.checker = c
	}
}

// WithAudit sets the audit store.
func WithAudit(store audit.Store) Option {
	return func(s *Server) {
		s.audit = store
	}
}

// New creates the server and its routes.
func New(cfg config.ServerConfig, caller Caller, opts ...Option) (*Server, error) {
	policy, err := rfc.ParseStatusPolicy(cfg.ErrorStatus)
	if err != nil {
		return nil, err
	}

	ginModeOnce.Do(func() {
		if gin.Mode() != gin.TestMode {
			gin.SetMode(gin.ReleaseMode)
		}
	})

	s := &Server{
		cfg:          cfg,
		statusPolicy: policy,
		credentials:  noCredentials{},
		checker:      health.NewChecker(""),
		audit:        audit.Nop(),
		logger:       observability.NopLogger(),
	}
	s.caller.Store(callerBox{caller})
	for _, opt := range opts {
		opt(s)
	}

	s.engine = gin.New()
	s.routes()
	return s, nil
}

// routes installs the middleware chain and the endpoints.
func (s *Server) routes() {
	s.engine.Use(
		middleware.Recovery(s.logger),
		middleware.RequestID(),
		middleware.LoggingWithConfig(middleware.LoggingConfig{
			Logger:    s.logger,
			SkipPaths: []string{"/health", "/ready", "/live"},
		}),
		middleware.Tracing(),
	)
	if s.metrics != nil {
		s.engine.Use(middleware.Metrics(s.metrics))
	}

	s.engine.GET("/health", gin.WrapF(s.checker.HealthHandler()))
	s.engine.GET("/ready", gin.WrapF(s.checker.ReadinessHandler()))
	s.engine.GET("/live", gin.WrapF(s.checker.LivenessHandler()))

	chain := make([]gin.HandlerFunc, 0, 3)
	if s.rateLimit.Enabled {
		var recorder middleware.RateLimitRecorder
		if s.metrics != nil {
			recorder = s.metrics
		}
		chain = append(chain, middleware.RateLimit(middleware.NewRateLimiter(s.rateLimit), recorder, s.logger))
	}
	chain = append(chain, middleware.BodyLimit(s.cfg.MaxBodySize))
	if s.guard != nil {
		chain = append(chain, s.guard.Middleware())
	}

	h := &callHandler{server: s}
	chain = append(chain, h.serve)
	s.engine.Any("/rfc/*dest", chain...)
}

// Engine returns the underlying gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Caller returns the current caller.
func (s *Server) Caller() Caller {
	return s.caller.Load().(callerBox).Caller
}

// SetCaller replaces the caller. Requests in flight keep the one they
// started with.
func (s *Server) SetCaller(c Caller) {
	s.caller.Store(callerBox{c})
}

// Start listens and serves until Stop. It returns nil after a graceful stop.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadTimeout:       s.cfg.ReadTimeout.Duration(),
		ReadHeaderTimeout: s.cfg.ReadTimeout.Duration(),
		WriteTimeout:      s.cfg.WriteTimeout.Duration(),
		IdleTimeout:       s.cfg.IdleTimeout.Duration(),
	}
	s.running = true
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		observability.String("address", addr),
		observability.Duration("writeTimeout", s.cfg.WriteTimeout.Duration()),
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop drains the server gracefully within ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("HTTP server stopped")
	return nil
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
