package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Fenveireth/lightspark/internal/config"
	"github.com/Fenveireth/lightspark/internal/logging"
	"github.com/Fenveireth/lightspark/internal/middleware"
	"github.com/Fenveireth/lightspark/internal/monitoring"
	"github.com/Fenveireth/lightspark/internal/session"
	"github.com/Fenveireth/lightspark/internal/tracing"
	"github.com/Fenveireth/lightspark/internal/trust"
	"github.com/Fenveireth/lightspark/internal/ws"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg      *config.Config
	router   *gin.Engine
	http     *http.Server
	logger   *logging.Logger
	sessions *session.Manager
	hub      *ws.Hub
}

// Options carries the constructed dependencies into New.
type Options struct {
	Config   *config.Config
	Logger   *logging.Logger
	Metrics  *monitoring.Metrics
	Gatherer prometheus.Gatherer
	Tracer   *tracing.Tracer
	Sessions *session.Manager
	Trust    *trust.Store
	Hub      *ws.Hub
}

// New builds the router, middleware stack and routes.
func New(opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	if opts.Tracer != nil {
		router.Use(tracing.HTTPMiddleware(opts.Tracer))
	}
	router.Use(monitoring.Middleware(opts.Metrics))
	router.Use(middleware.CORS(middleware.CORSForOrigins(cfg.Server.AllowedOrigins)))
	if cfg.Server.RateLimitEnabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.Server.RateLimitRPS),
			zap.Int("burst", cfg.Server.RateLimitBurst))
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimitRPS,
			Burst:             cfg.Server.RateLimitBurst,
		}))
	}

	h := newHandlers(opts.Sessions, opts.Trust, logger)

	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	{
		v1.POST("/sessions", h.CreateSession)
		v1.GET("/sessions", h.ListSessions)
		v1.GET("/sessions/:id", h.GetSession)
		v1.DELETE("/sessions/:id", h.DeleteSession)

		v1.POST("/sessions/:id/evaluate", h.EvaluateURL)
		v1.POST("/sessions/:id/evaluate-header", h.EvaluateHeader)

		v1.POST("/sessions/:id/policies", h.AddPolicy)
		v1.POST("/sessions/:id/policies/load", h.LoadPolicy)
		v1.GET("/sessions/:id/policies", h.ListPolicies)

		v1.GET("/sessions/:id/sandbox", h.GetSandbox)
		v1.PUT("/sessions/:id/sandbox", h.SetSandbox)
		v1.PUT("/sessions/:id/exact-settings", h.SetExactSettings)

		v1.GET("/trust/check", h.TrustCheck)

		if opts.Hub != nil {
			v1.GET("/events/ws", opts.Hub.HandleConnection)
		}
	}

	return &Server{
		cfg:    cfg,
		router: router,
		http: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger:   logger,
		sessions: opts.Sessions,
		hub:      opts.Hub,
	}
}

// Router exposes the gin engine; tests drive it directly.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, disconnects event subscribers
// and stops the session sweeper.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	err := s.http.Shutdown(ctx)
	if s.hub != nil {
		s.hub.Close()
	}
	if s.sessions != nil {
		s.sessions.Close()
	}
	s.logger.Sync()
	return err
}
