package workq

import (
	"github.com/GriffinCanCode/kcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/kcore/internal/infrastructure/tracing"
	"go.uber.org/zap"
)

// Option configures a Queue.
type Option func(*Queue)

// WithName names the queue and its worker thread.
func WithName(name string) Option {
	return func(q *Queue) {
		if name != "" {
			q.name = name
		}
	}
}

// WithLogger sets the queue's logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithMetrics reports queue activity to m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithTracer emits submit/run/cancel spans to t.
func WithTracer(t *tracing.Tracer) Option {
	return func(q *Queue) { q.tracer = t }
}
