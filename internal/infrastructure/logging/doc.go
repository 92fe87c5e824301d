// Package logging provides structured logging using uber/zap.
//
// Two modes are offered:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Kernel packages take a plain *zap.Logger and default to a no-op logger;
// the daemon builds one Logger here and hands out children with Kernel.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	wq := workq.New(threads, clk, workq.WithLogger(logger.Kernel("sysworkq")))
//	logger.Info("kernel booted", zap.Int("threads", threads.Count()))
package logging
