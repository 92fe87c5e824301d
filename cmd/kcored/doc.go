// Package main is the entry point for the kcored daemon.
//
// kcored boots the kernel core and serves the admin API:
//
//	GET  /health, /v1/stats, /v1/traces
//	*    /v1/pipes[/:name[/write|/read|/flush|/tap]]
//	*    /v1/workq[/echo]
//	GET  /metrics (Prometheus), /metrics/json
//
// Configuration:
//   - Defaults
//   - YAML or TOML file (--config or KCORE_CONFIG)
//   - KCORE_* environment variables
//   - CLI flags (override everything else)
//
// Usage:
//
//	# Production mode
//	./kcored serve --config kcore.yaml
//
//	# Development mode (console logs, debug level)
//	./kcored serve --dev
//
//	# Latency report
//	./kcored bench --items 5000 --chunk 128
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
