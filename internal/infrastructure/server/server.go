package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/kcore/internal/api/http"
	"github.com/GriffinCanCode/kcore/internal/api/middleware"
	"github.com/GriffinCanCode/kcore/internal/api/ws"
	"github.com/GriffinCanCode/kcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/kcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/kcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/kcore/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/kcore/internal/kernel"
)

// Deps are the objects the admin server exposes.
type Deps struct {
	Kernel   *kernel.Kernel
	Metrics  *monitoring.Metrics
	Gatherer prometheus.Gatherer
	Tracer   *tracing.Tracer
	Logger   *logging.Logger
}

// Server wraps the admin HTTP server and its dependencies
type Server struct {
	router  *gin.Engine
	http    *http.Server
	kernel  *kernel.Kernel
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates the admin server and registers its routes
func NewServer(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = &logging.Logger{Logger: zap.NewNop()}
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(deps.Tracer))
	router.Use(monitoring.Middleware(deps.Metrics, "/metrics", "/metrics/json"))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig().WithOrigins(cfg.Server.AllowOrigins)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	handlers := apihttp.NewHandlers(deps.Kernel, apihttp.Options{
		Metrics:     deps.Metrics,
		Tracer:      deps.Tracer,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeoutMS) * time.Millisecond,
		Logger:      logger.Named("api"),
	})
	tap := ws.NewTap(deps.Kernel, deps.Metrics, logger.Named("tap"))

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	v1 := router.Group("/v1")
	v1.GET("/stats", handlers.Stats)
	v1.GET("/traces", handlers.Traces)

	// Pipes
	v1.GET("/pipes", handlers.ListPipes)
	v1.POST("/pipes", handlers.CreatePipe)
	v1.DELETE("/pipes/:name", handlers.DeletePipe)
	v1.POST("/pipes/:name/write", handlers.WritePipe)
	v1.GET("/pipes/:name/read", handlers.ReadPipe)
	v1.POST("/pipes/:name/flush", handlers.FlushPipe)
	v1.GET("/pipes/:name/tap", tap.Handle)

	// Work queues
	v1.GET("/workq", handlers.ListWorkQueues)
	v1.POST("/workq/echo", handlers.Echo)

	// Metrics endpoints
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.GET("/metrics/json", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Metrics.Snapshot())
	})

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		kernel:  deps.Kernel,
		logger:  logger,
		config:  cfg,
		metrics: deps.Metrics,
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("admin server listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Starting admin server", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin server: %w", err)
	case <-ctx.Done():
	}

	timeout := time.Duration(s.config.Server.ShutdownTimeoutMS) * time.Millisecond
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Close(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}

// Close gracefully shuts down the server
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down admin server...")
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Error("Admin server shutdown failed", zap.Error(err))
		return fmt.Errorf("failed to shut down admin server: %w", err)
	}
	return nil
}
