/*
Package monitoring provides Prometheus metrics for the kernel and its admin
surface.

# Overview

Kernel objects report through a shared *Metrics. Every Record/Set method is
safe on a nil receiver, so kernel packages can run without metrics in tests.

# Metrics

  - Work queues: submissions by result, executions, queueing latency, handler
    duration, cancellations, pending depth
  - Pipes: bytes moved per direction, operations by result code, ring fill
  - Threads: live count
  - Interrupts: delivered and latched counts
  - Admin API: HTTP requests, latency, WebSocket connections

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	defer metrics.Close()

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
*/
package monitoring
