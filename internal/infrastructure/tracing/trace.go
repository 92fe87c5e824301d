package tracing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/kcore/internal/shared/id"
	"go.uber.org/zap"
)

// TraceID represents a unique trace identifier
type TraceID string

// DefaultHistory is the number of finished spans kept for inspection.
const DefaultHistory = 256

// Span represents a single operation on a kernel object or an API request
type Span struct {
	TraceID   TraceID           `json:"trace_id"`
	SpanID    id.SpanID         `json:"span_id"`
	ParentID  id.SpanID         `json:"parent_id,omitempty"`
	Name      string            `json:"name"`
	Object    string            `json:"object,omitempty"`
	StartTime time.Time         `json:"start"`
	Duration  time.Duration     `json:"duration"`
	Tags      map[string]string `json:"tags,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Tracer collects spans
type Tracer struct {
	service string
	logger  *zap.Logger
	spans   chan *Span
	done    chan struct{}
	closed  sync.Once
	dropped atomic.Uint64

	mu      sync.RWMutex
	history []*Span
	next    int
	size    int
}

// New creates a tracer keeping the last history spans
func New(service string, logger *zap.Logger, history int) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if history <= 0 {
		history = DefaultHistory
	}
	t := &Tracer{
		service: service,
		logger:  logger,
		spans:   make(chan *Span, 1024),
		done:    make(chan struct{}),
		history: make([]*Span, history),
	}

	go t.collectSpans()

	return t
}

// Begin starts a kernel span on object
func (t *Tracer) Begin(name, object string) *Span {
	if t == nil {
		return nil
	}
	return &Span{
		TraceID:   TraceID(id.NewSpanID()),
		SpanID:    id.NewSpanID(),
		Name:      name,
		Object:    object,
		StartTime: time.Now(),
	}
}

// End finishes span with err and submits it
func (t *Tracer) End(span *Span, err error) {
	if t == nil || span == nil {
		return
	}
	span.Finish()
	if err != nil {
		span.SetError(err)
	}
	t.Submit(span)
}

// Event records an instantaneous span. kv are tag key/value pairs.
func (t *Tracer) Event(name, object string, err error, kv ...string) {
	if t == nil {
		return
	}
	span := t.Begin(name, object)
	for i := 0; i+1 < len(kv); i += 2 {
		span.SetTag(kv[i], kv[i+1])
	}
	t.End(span, err)
}

// StartSpan creates a span joined to the trace in ctx
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID, _ := ctx.Value(traceIDKey).(TraceID)
	if traceID == "" {
		traceID = TraceID(id.NewRequestID())
	}

	parentID, _ := ctx.Value(spanIDKey).(id.SpanID)

	span := &Span{
		TraceID:   traceID,
		SpanID:    id.NewSpanID(),
		ParentID:  parentID,
		Name:      name,
		StartTime: time.Now(),
	}

	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, spanIDKey, span.SpanID)

	return span, newCtx
}

// Finish marks the span as complete
func (s *Span) Finish() {
	s.Duration = time.Since(s.StartTime)
}

// SetTag adds a tag to the span
func (s *Span) SetTag(key, value string) {
	if s.Tags == nil {
		s.Tags = make(map[string]string)
	}
	s.Tags[key] = value
}

// SetError records an error in the span
func (s *Span) SetError(err error) {
	s.Error = err.Error()
}

// Submit sends a span to the collector without blocking
func (t *Tracer) Submit(span *Span) {
	if t == nil {
		return
	}
	select {
	case <-t.done:
		return
	default:
	}
	select {
	case t.spans <- span:
	default:
		t.dropped.Add(1)
	}
}

// Recent returns up to n finished spans, newest first
func (t *Tracer) Recent(n int) []Span {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n <= 0 || n > t.size {
		n = t.size
	}
	out := make([]Span, 0, n)
	for i := 1; i <= n; i++ {
		idx := (t.next - i + len(t.history)) % len(t.history)
		out = append(out, *t.history[idx])
	}
	return out
}

// Dropped returns how many spans were discarded because the buffer was full
func (t *Tracer) Dropped() uint64 {
	if t == nil {
		return 0
	}
	return t.dropped.Load()
}

// Close stops the collector
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	t.closed.Do(func() { close(t.done) })
}

// collectSpans processes completed spans
func (t *Tracer) collectSpans() {
	for {
		select {
		case span := <-t.spans:
			t.processSpan(span)
		case <-t.done:
			return
		}
	}
}

// processSpan logs and stores span data
func (t *Tracer) processSpan(span *Span) {
	t.mu.Lock()
	t.history[t.next] = span
	t.next = (t.next + 1) % len(t.history)
	if t.size < len(t.history) {
		t.size++
	}
	t.mu.Unlock()

	fields := []zap.Field{
		zap.String("trace_id", string(span.TraceID)),
		zap.String("span_id", span.SpanID.String()),
		zap.String("operation", span.Name),
		zap.Duration("duration", span.Duration),
		zap.String("service", t.service),
	}
	if span.Object != "" {
		fields = append(fields, zap.String("object", span.Object))
	}
	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", span.ParentID.String()))
	}
	for k, v := range span.Tags {
		fields = append(fields, zap.String(k, v))
	}

	if span.Error != "" {
		fields = append(fields, zap.String("error", span.Error))
	}
	t.logger.Debug("span completed", fields...)
}

// ExtractTraceContext extracts trace context from headers
func ExtractTraceContext(headers map[string]string) (TraceID, id.SpanID) {
	return TraceID(headers["X-Trace-ID"]), id.SpanID(headers["X-Span-ID"])
}

// Context keys for trace propagation
type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// GetTraceID retrieves the trace ID from context
func GetTraceID(ctx context.Context) TraceID {
	if traceID, ok := ctx.Value(traceIDKey).(TraceID); ok {
		return traceID
	}
	return ""
}

// FormatTrace returns a formatted trace string for logging
func FormatTrace(traceID TraceID, spanID id.SpanID) string {
	return fmt.Sprintf("[trace:%s span:%s]", traceID, spanID)
}
