package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Work queue metrics
	WorkSubmitted *prometheus.CounterVec
	WorkExecuted  *prometheus.CounterVec
	WorkLatency   *prometheus.HistogramVec
	WorkDuration  *prometheus.HistogramVec
	WorkCancelled *prometheus.CounterVec
	WorkPending   *prometheus.GaugeVec

	// Pipe metrics
	PipeBytes *prometheus.CounterVec
	PipeOps   *prometheus.CounterVec
	PipeUsed  *prometheus.GaugeVec

	// Thread and interrupt metrics
	ThreadsActive prometheus.Gauge
	IRQDelivered  prometheus.Gauge
	IRQLatched    prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
	stop      chan struct{}
	stopOnce  sync.Once

	// Snapshot for JSON API - track current values
	snapshot Snapshot

	mu sync.RWMutex
}

// Snapshot holds running totals for the JSON API
type Snapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	WorkSubmitted  int64   `json:"work_submitted"`
	WorkExecuted   int64   `json:"work_executed"`
	WorkCancelled  int64   `json:"work_cancelled"`
	PipeBytesIn    int64   `json:"pipe_bytes_in"`
	PipeBytesOut   int64   `json:"pipe_bytes_out"`
	PipeTimeouts   int64   `json:"pipe_timeouts"`
	ActiveThreads  int64   `json:"active_threads"`
	WSConnections  int64   `json:"ws_connections"`
	WorkLatencySum float64 `json:"work_latency_sum_seconds"`
}

var latencyBuckets = []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1}

// NewMetrics creates a metrics collector registered on reg. A nil reg uses
// the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),
		stop:      make(chan struct{}),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kcore_http_requests_total",
				Help: "Total number of admin HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kcore_http_request_duration_seconds",
				Help:    "Admin HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		WorkSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kcore_work_submitted_total",
				Help: "Work item submissions by result",
			},
			[]string{"queue", "result"},
		),
		WorkExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kcore_work_executed_total",
				Help: "Work item handlers run",
			},
			[]string{"queue"},
		),
		WorkLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kcore_work_queue_latency_seconds",
				Help:    "Time from submission to handler start",
				Buckets: latencyBuckets,
			},
			[]string{"queue"},
		),
		WorkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kcore_work_handler_duration_seconds",
				Help:    "Work handler run time",
				Buckets: latencyBuckets,
			},
			[]string{"queue"},
		),
		WorkCancelled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kcore_work_cancelled_total",
				Help: "Delayed work cancellations by result",
			},
			[]string{"queue", "result"},
		),
		WorkPending: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kcore_work_pending",
				Help: "Items waiting in a work queue",
			},
			[]string{"queue"},
		),

		PipeBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kcore_pipe_bytes_total",
				Help: "Bytes moved through pipes",
			},
			[]string{"pipe", "direction"},
		),
		PipeOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kcore_pipe_operations_total",
				Help: "Pipe put/get calls by result code",
			},
			[]string{"pipe", "op", "result"},
		),
		PipeUsed: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kcore_pipe_buffered_bytes",
				Help: "Bytes held in a pipe's ring buffer",
			},
			[]string{"pipe"},
		),

		ThreadsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kcore_threads_active",
				Help: "Number of live kernel threads",
			},
		),
		IRQDelivered: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kcore_irq_delivered",
				Help: "Interrupts delivered since boot",
			},
		),
		IRQLatched: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kcore_irq_latched",
				Help: "Interrupts raised while masked since boot",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kcore_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kcore_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kcore_uptime_seconds",
				Help: "Kernel uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// Close stops the uptime updater.
func (m *Metrics) Close() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() { close(m.stop) })
}

// updateUptime updates the uptime metric until Close
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Uptime.Set(time.Since(m.startTime).Seconds())
		case <-m.stop:
			return
		}
	}
}

// RecordHTTPRequest records an admin HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordWorkSubmit records a submission result ("queued", "requeued",
// "already_queued" or an errno name)
func (m *Metrics) RecordWorkSubmit(queue, result string) {
	if m == nil {
		return
	}
	m.WorkSubmitted.WithLabelValues(queue, result).Inc()
	m.mu.Lock()
	m.snapshot.WorkSubmitted++
	m.mu.Unlock()
}

// RecordWorkRun records one handler execution
func (m *Metrics) RecordWorkRun(queue string, latency, duration time.Duration) {
	if m == nil {
		return
	}
	m.WorkExecuted.WithLabelValues(queue).Inc()
	m.WorkLatency.WithLabelValues(queue).Observe(latency.Seconds())
	m.WorkDuration.WithLabelValues(queue).Observe(duration.Seconds())
	m.mu.Lock()
	m.snapshot.WorkExecuted++
	m.snapshot.WorkLatencySum += latency.Seconds()
	m.mu.Unlock()
}

// RecordWorkCancel records a cancellation result
func (m *Metrics) RecordWorkCancel(queue, result string) {
	if m == nil {
		return
	}
	m.WorkCancelled.WithLabelValues(queue, result).Inc()
	if result == "ok" {
		m.mu.Lock()
		m.snapshot.WorkCancelled++
		m.mu.Unlock()
	}
}

// SetWorkPending sets a queue's pending depth
func (m *Metrics) SetWorkPending(queue string, n int) {
	if m == nil {
		return
	}
	m.WorkPending.WithLabelValues(queue).Set(float64(n))
}

// RecordPipeOp records a put or get and the bytes it moved
func (m *Metrics) RecordPipeOp(pipe, op, result string, n int) {
	if m == nil {
		return
	}
	m.PipeOps.WithLabelValues(pipe, op, result).Inc()
	if n > 0 {
		direction := "in"
		if op == "get" {
			direction = "out"
		}
		m.PipeBytes.WithLabelValues(pipe, direction).Add(float64(n))
	}

	m.mu.Lock()
	switch op {
	case "put":
		m.snapshot.PipeBytesIn += int64(n)
	case "get":
		m.snapshot.PipeBytesOut += int64(n)
	}
	if result == "EAGAIN" {
		m.snapshot.PipeTimeouts++
	}
	m.mu.Unlock()
}

// SetPipeUsed sets a pipe's ring fill level
func (m *Metrics) SetPipeUsed(pipe string, n int) {
	if m == nil {
		return
	}
	m.PipeUsed.WithLabelValues(pipe).Set(float64(n))
}

// SetThreadsActive sets the live thread count
func (m *Metrics) SetThreadsActive(n int) {
	if m == nil {
		return
	}
	m.ThreadsActive.Set(float64(n))
	m.mu.Lock()
	m.snapshot.ActiveThreads = int64(n)
	m.mu.Unlock()
}

// SetIRQStats publishes interrupt controller counters
func (m *Metrics) SetIRQStats(delivered, latched uint64) {
	if m == nil {
		return
	}
	m.IRQDelivered.Set(float64(delivered))
	m.IRQLatched.Set(float64(latched))
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.WSConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.WSConnections--
	m.mu.Unlock()
}

// Snapshot returns the running totals
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// UptimeDuration returns time since the collector was created
func (m *Metrics) UptimeDuration() time.Duration {
	if m == nil {
		return 0
	}
	return time.Since(m.startTime)
}
