package kcored

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/kcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/kcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/kcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/kcore/internal/infrastructure/server"
	"github.com/GriffinCanCode/kcore/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/kcore/internal/kernel"
	"github.com/GriffinCanCode/kcore/internal/kernel/fatal"
)

// SnapshotInterval is how often serve refreshes the sampled gauges.
const SnapshotInterval = 5 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Boot the kernel and run the admin server",
		Aliases: []string{"run", "start"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return Serve(ctx, cfg)
		},
	}
	cmd.Flags().String("port", "", "Admin server port")
	cmd.Flags().String("host", "", "Admin server host")
	cmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	cmd.Flags().Bool("dev", false, "Development logging (console encoder, debug level)")
	cmd.Flags().Bool("no-admin", false, "Boot the kernel without the admin server")
	cmd.Flags().Int("max-threads", 0, "Thread limit (0 is unlimited)")
	return cmd
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg config.LogConfig) (*logging.Logger, error) {
	logCfg := logging.DefaultConfig()
	if cfg.Development {
		logCfg = logging.DevelopmentConfig()
	}
	if cfg.Level != "" {
		logCfg.Level = cfg.Level
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// Serve boots a kernel from cfg, runs the admin server if enabled and
// blocks until ctx is cancelled. The kernel is shut down before returning.
func Serve(ctx context.Context, cfg *config.Config) error {
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	fatal.SetLogger(logger.Kernel("fatal"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(reg)
	defer metrics.Close()

	var tracer *tracing.Tracer
	if cfg.Tracing.Enabled {
		tracer = tracing.New("kcored", logger.Named("trace"), cfg.Tracing.History)
		defer tracer.Close()
	}

	k, err := kernel.New(cfg.Kernel, logger.Named("kernel"), metrics, tracer)
	if err != nil {
		logger.Error("Kernel boot failed", zap.Error(err))
		return err
	}
	defer func() {
		timeout := time.Duration(cfg.Server.ShutdownTimeoutMS) * time.Millisecond
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := k.Shutdown(sctx); err != nil {
			logger.Warn("Kernel shutdown incomplete", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.Enabled {
		srv := server.NewServer(cfg, server.Deps{
			Kernel:   k,
			Metrics:  metrics,
			Gatherer: reg,
			Tracer:   tracer,
			Logger:   logger,
		})
		g.Go(func() error { return srv.Run(gctx) })
	} else {
		logger.Info("Admin server disabled")
	}
	g.Go(func() error { return publish(gctx, k, SnapshotInterval) })

	err = g.Wait()
	logger.Info("Shutting down gracefully...")
	return err
}

// publish samples the kernel so gauges that are not event driven stay
// current for scrapes.
func publish(ctx context.Context, k *kernel.Kernel, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			k.Snapshot()
		}
	}
}
