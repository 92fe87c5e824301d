// Package config provides 12-factor configuration for the kcore daemon.
//
// Values start from Default, are optionally replaced by a YAML or TOML
// file, and are finally overridden by environment variables.
//
// Configuration Sections:
//   - Server: admin HTTP server (address, CORS origins, timeouts)
//   - Kernel: system work queue thread, thread limits, boot pipes
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - Tracing: span tracer history
//
// Example Usage:
//
//	cfg, err := config.LoadFile("kcore.yaml")
//	if err != nil {
//		return err
//	}
//	fmt.Printf("admin API on %s\n", cfg.Server.Addr())
//
// Environment Variables:
//   - KCORE_PORT, KCORE_HOST, KCORE_SERVER_ENABLED, KCORE_ALLOW_ORIGINS
//   - KCORE_SYSWORKQ_STACK_SIZE, KCORE_SYSWORKQ_PRIORITY, KCORE_SYSWORKQ_NO_YIELD
//   - KCORE_MAX_THREADS, KCORE_MIN_STACK_SIZE, KCORE_PIPES (name:size,...)
//   - KCORE_LOG_LEVEL, KCORE_LOG_DEV
//   - KCORE_RATE_LIMIT_RPS, KCORE_RATE_LIMIT_BURST, KCORE_RATE_LIMIT_ENABLED
//   - KCORE_TRACING_ENABLED, KCORE_TRACING_HISTORY
package config
