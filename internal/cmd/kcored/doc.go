// Package kcored holds the commands of the kcored binary.
//
// The root command loads configuration (defaults, then an optional YAML or
// TOML file, then KCORE_* environment variables, then flags) and dispatches
// to one of:
//
//	serve   boot the kernel and run the admin server until SIGINT/SIGTERM
//	bench   boot a private kernel and report work queue and pipe latency
//	config  print the effective configuration
//	version print the build version
package kcored
