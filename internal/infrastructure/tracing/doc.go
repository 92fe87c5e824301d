/*
Package tracing records kernel object events and admin API requests as spans.

# Overview

Work queues and pipes call the tracer at their hook points (submit, run,
cancel, put, get). Spans are handed to a buffered collector goroutine so
hooks never block kernel code; when the buffer is full the span is dropped
and counted. The collector logs each span at debug level and keeps the most
recent ones for the admin API.

# Features

- Nil-safe hooks: kernel packages run without a tracer in tests
- Span creation with parent-child relationships through context
- Trace context propagation via X-Trace-ID / X-Span-ID headers
- Gin middleware for admin requests
- Bounded history of recent spans

# Usage

	tracer := tracing.New("kcore", logger, tracing.DefaultHistory)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span := tracer.Begin("workq.run", "sysworkq")
	runHandler()
	tracer.End(span, nil)
*/
package tracing
