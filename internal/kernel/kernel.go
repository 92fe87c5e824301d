package kernel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/kcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/kcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/kcore/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/kcore/internal/kernel/clock"
	"github.com/GriffinCanCode/kcore/internal/kernel/errno"
	"github.com/GriffinCanCode/kcore/internal/kernel/irq"
	"github.com/GriffinCanCode/kcore/internal/kernel/pipe"
	"github.com/GriffinCanCode/kcore/internal/kernel/thread"
	"github.com/GriffinCanCode/kcore/internal/kernel/workq"
	"github.com/GriffinCanCode/kcore/internal/shared/validate"
	"go.uber.org/zap"
)

// SysWorkQName is the name of the system work queue.
const SysWorkQName = "sysworkq"

// Kernel owns the core kernel objects.
type Kernel struct {
	cfg     config.KernelConfig
	irq     *irq.Controller
	clock   *clock.Clock
	threads *thread.Manager
	sysq    *workq.Queue

	mu     sync.RWMutex
	queues map[string]*workq.Queue
	pipes  map[string]*pipe.Pipe
	down   bool

	logger  *zap.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
}

// Snapshot is a point-in-time view of the kernel.
type Snapshot struct {
	Uptime     time.Duration        `json:"uptime"`
	Timers     int                  `json:"timers"`
	IRQ        irq.Stats            `json:"irq"`
	WorkQueues []workq.Stats        `json:"work_queues"`
	Pipes      []pipe.Stats         `json:"pipes"`
	Threads    []thread.Info        `json:"threads"`
	Metrics    *monitoring.Snapshot `json:"metrics,omitempty"`
}

// New boots a kernel. logger, metrics and tracer may be nil.
func New(cfg config.KernelConfig, logger *zap.Logger, metrics *monitoring.Metrics, tracer *tracing.Tracer) (*Kernel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	k := &Kernel{
		cfg:     cfg,
		irq:     irq.Default(),
		queues:  make(map[string]*workq.Queue),
		pipes:   make(map[string]*pipe.Pipe),
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
	}

	k.clock = clock.New(clock.Options{IRQ: k.irq, Logger: logger.Named("clock")})
	k.threads = thread.NewManager(k.clock,
		thread.Limits{MaxThreads: cfg.MaxThreads, MinStackSize: cfg.MinStackSize},
		thread.WithLogger(logger.Named("thread")),
		thread.WithCountHook(metrics.SetThreadsActive),
	)

	sysq, err := k.NewWorkQueue(SysWorkQName, workq.StartConfig{
		StackSize: cfg.SysWorkQStackSize,
		Priority:  cfg.SysWorkQPriority,
		NoYield:   cfg.SysWorkQNoYield,
	})
	if err != nil {
		k.clock.Close()
		return nil, fmt.Errorf("boot %s: %w", SysWorkQName, err)
	}
	k.sysq = sysq

	names := make([]string, 0, len(cfg.Pipes))
	for name := range cfg.Pipes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := k.NewPipe(name, cfg.Pipes[name]); err != nil {
			_ = k.Shutdown(context.Background())
			return nil, fmt.Errorf("boot pipe %s: %w", name, err)
		}
	}

	logger.Info("kernel booted",
		zap.Int("threads", k.threads.Count()),
		zap.Int("pipes", len(names)),
	)
	return k, nil
}

// Clock returns the timeout subsystem.
func (k *Kernel) Clock() *clock.Clock { return k.clock }

// Threads returns the thread manager.
func (k *Kernel) Threads() *thread.Manager { return k.threads }

// IRQ returns the interrupt controller.
func (k *Kernel) IRQ() *irq.Controller { return k.irq }

// SysWorkQ returns the system work queue.
func (k *Kernel) SysWorkQ() *workq.Queue { return k.sysq }

// NewWorkQueue creates, registers and starts a work queue. Names are
// unique; a duplicate fails with EADDRINUSE.
func (k *Kernel) NewWorkQueue(name string, cfg workq.StartConfig) (*workq.Queue, error) {
	if err := validate.Name("work queue", name); err != nil {
		return nil, fmt.Errorf("new work queue: %w", err)
	}
	if cfg.StackSize < k.cfg.MinStackSize {
		return nil, fmt.Errorf("new work queue %s: stack %d: %w", name, cfg.StackSize, errno.EINVAL)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.down {
		return nil, fmt.Errorf("new work queue %s: %w", name, errno.ENODEV)
	}
	if _, ok := k.queues[name]; ok {
		return nil, fmt.Errorf("new work queue %s: %w", name, errno.EADDRINUSE)
	}
	if k.cfg.MaxThreads > 0 && k.threads.Count() >= k.cfg.MaxThreads {
		return nil, fmt.Errorf("new work queue %s: %w", name, errno.ENOMEM)
	}

	q := workq.New(k.threads, k.clock,
		workq.WithName(name),
		workq.WithLogger(k.logger.Named("workq")),
		workq.WithMetrics(k.metrics),
		workq.WithTracer(k.tracer),
	)
	q.Start(cfg)
	k.queues[name] = q
	return q, nil
}

// WorkQueue looks up a queue by name.
func (k *Kernel) WorkQueue(name string) (*workq.Queue, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	q, ok := k.queues[name]
	return q, ok
}

// NewPipe allocates and registers a pipe of size bytes.
func (k *Kernel) NewPipe(name string, size int) (*pipe.Pipe, error) {
	if err := validate.Name("pipe", name); err != nil {
		return nil, fmt.Errorf("new pipe: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.down {
		return nil, fmt.Errorf("new pipe %s: %w", name, errno.ENODEV)
	}
	if _, ok := k.pipes[name]; ok {
		return nil, fmt.Errorf("new pipe %s: %w", name, errno.EADDRINUSE)
	}
	p, err := pipe.NewAlloc(size,
		pipe.WithName(name),
		pipe.WithLogger(k.logger.Named("pipe")),
		pipe.WithMetrics(k.metrics),
		pipe.WithTracer(k.tracer),
	)
	if err != nil {
		return nil, err
	}
	k.pipes[name] = p
	return p, nil
}

// Pipe looks up a pipe by name.
func (k *Kernel) Pipe(name string) (*pipe.Pipe, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	p, ok := k.pipes[name]
	return p, ok
}

// RemovePipe releases a pipe's buffer and unregisters it. It returns EAGAIN
// while threads wait on the pipe and EINVAL for an unknown name.
func (k *Kernel) RemovePipe(name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.pipes[name]
	if !ok {
		return fmt.Errorf("remove pipe %s: %w", name, errno.EINVAL)
	}
	if err := p.Cleanup(); err != nil {
		return err
	}
	delete(k.pipes, name)
	return nil
}

// Pipes returns stats for every pipe, ordered by name.
func (k *Kernel) Pipes() []pipe.Stats {
	k.mu.RLock()
	out := make([]pipe.Stats, 0, len(k.pipes))
	for _, p := range k.pipes {
		out = append(out, p.Stats())
	}
	k.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// WorkQueues returns stats for every work queue, ordered by name.
func (k *Kernel) WorkQueues() []workq.Stats {
	k.mu.RLock()
	out := make([]workq.Stats, 0, len(k.queues))
	for _, q := range k.queues {
		out = append(out, q.Stats())
	}
	k.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot collects kernel state and publishes irq counters to metrics.
func (k *Kernel) Snapshot() Snapshot {
	irqStats := k.irq.Stats()
	k.metrics.SetIRQStats(irqStats.Delivered, irqStats.Latched)

	s := Snapshot{
		Uptime:     k.clock.Uptime(),
		Timers:     k.clock.Pending(),
		IRQ:        irqStats,
		WorkQueues: k.WorkQueues(),
		Pipes:      k.Pipes(),
		Threads:    k.threads.Snapshot(),
	}
	if k.metrics != nil {
		m := k.metrics.Snapshot()
		s.Metrics = &m
	}
	return s
}

// Shutdown stops every work queue, aborts remaining threads and stops the
// clock.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.mu.Lock()
	if k.down {
		k.mu.Unlock()
		return nil
	}
	k.down = true
	queues := make([]*workq.Queue, 0, len(k.queues))
	for _, q := range k.queues {
		queues = append(queues, q)
	}
	k.mu.Unlock()

	var firstErr error
	for _, q := range queues {
		if err := q.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := k.threads.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	k.clock.Close()

	k.logger.Info("kernel stopped", zap.Duration("uptime", k.clock.Uptime()))
	return firstErr
}
