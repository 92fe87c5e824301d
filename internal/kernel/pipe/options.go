package pipe

import (
	"github.com/GriffinCanCode/kcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/kcore/internal/infrastructure/tracing"
	"go.uber.org/zap"
)

// Option configures a Pipe.
type Option func(*Pipe)

// WithName names the pipe in logs and metrics.
func WithName(name string) Option {
	return func(p *Pipe) {
		if name != "" {
			p.name = name
		}
	}
}

// WithLogger sets the pipe's logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipe) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics reports transfers to m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(p *Pipe) { p.metrics = m }
}

// WithTracer emits put/get spans to t.
func WithTracer(t *tracing.Tracer) Option {
	return func(p *Pipe) { p.tracer = t }
}
