package workq

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/kcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/kcore/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/kcore/internal/kernel/clock"
	"github.com/GriffinCanCode/kcore/internal/kernel/errno"
	"github.com/GriffinCanCode/kcore/internal/kernel/fatal"
	"github.com/GriffinCanCode/kcore/internal/kernel/irq"
	"github.com/GriffinCanCode/kcore/internal/kernel/spinlock"
	"github.com/GriffinCanCode/kcore/internal/kernel/thread"
	"github.com/GriffinCanCode/kcore/internal/kernel/waitq"
	"github.com/GriffinCanCode/kcore/internal/shared/id"
	"go.uber.org/zap"
)

// Queue is a work queue with a dedicated worker thread.
type Queue struct {
	id   id.QueueID
	name string

	lock       spinlock.Spinlock
	head, tail *Work
	pending    int
	current    *Work
	started    bool
	draining   bool
	plugged    bool
	noYield    bool
	worker     waitq.Queue
	drainers   waitq.Queue

	threads *thread.Manager
	clock   *clock.Clock
	thread  *thread.Thread

	processed atomic.Uint64
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	tracer    *tracing.Tracer
}

// StartConfig describes the worker thread.
type StartConfig struct {
	StackSize int
	Priority  int
	Essential bool
	// NoYield skips yielding the processor after each item.
	NoYield bool
}

// Stats is a snapshot of a queue.
type Stats struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Pending   int    `json:"pending"`
	Processed uint64 `json:"processed"`
	Started   bool   `json:"started"`
	Draining  bool   `json:"draining"`
	Plugged   bool   `json:"plugged"`
	Running   bool   `json:"running"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// New creates a queue. threads spawns the worker; clk arms delayed work.
func New(threads *thread.Manager, clk *clock.Clock, opts ...Option) *Queue {
	q := &Queue{
		id:      id.NewQueueID(),
		threads: threads,
		clock:   clk,
		logger:  zap.NewNop(),
	}
	q.name = q.id.String()
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With(zap.String("workq", q.name))
	return q
}

// ID returns the queue ID.
func (q *Queue) ID() id.QueueID { return q.id }

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Start spawns the worker thread. Starting a queue twice, or failing to
// create its thread, is fatal.
func (q *Queue) Start(cfg StartConfig) {
	key := q.lock.Lock()
	if q.started {
		q.lock.Unlock(key)
		fatal.Panic(&fatal.Error{Module: "workq", Reason: fatal.ReasonAssert, Message: fmt.Sprintf("queue %s started twice", q.name)})
		return
	}
	q.started = true
	q.noYield = cfg.NoYield
	q.lock.Unlock(key)

	var opts thread.Options
	if cfg.Essential {
		opts |= thread.Essential
	}
	t, err := q.threads.Create(thread.Spec{
		Name:      q.name,
		StackSize: cfg.StackSize,
		Priority:  cfg.Priority,
		Options:   opts,
	}, q.loop)
	if err != nil {
		key = q.lock.Lock()
		q.started = false
		q.lock.Unlock(key)
		fatal.Panic(&fatal.Error{Module: "workq", Reason: fatal.ReasonPanic, Message: "create worker for " + q.name, Err: err})
		return
	}

	key = q.lock.Lock()
	q.thread = t
	q.lock.Unlock(key)

	q.logger.Info("work queue started",
		zap.String("queue_id", q.id.String()),
		zap.String("thread_id", t.ID().String()),
		zap.Int("priority", cfg.Priority),
	)
}

// Stop aborts the worker thread and waits for it to exit. Pending items
// are dropped and unbound.
func (q *Queue) Stop(ctx context.Context) error {
	key := q.lock.Lock()
	t := q.thread
	q.started = false
	for w := q.head; w != nil; {
		next := w.next
		w.prev, w.next = nil, nil
		w.clear(FlagQueued)
		if w.Busy() == 0 {
			w.owner.Store(nil)
		}
		w.done.WakeAll(nil)
		w = next
	}
	q.head, q.tail, q.pending = nil, nil, 0
	q.drainers.WakeAll(nil)
	q.lock.Unlock(key)

	if t == nil {
		return nil
	}
	t.Abort()
	if err := t.Join(ctx); err != nil {
		return fmt.Errorf("stop %s: %w", q.name, err)
	}
	q.logger.Info("work queue stopped", zap.Uint64("processed", q.processed.Load()))
	return nil
}

// Submit queues w. It never blocks and is safe from interrupt context.
// Submitting an item that is already queued or delayed is a no-op
// reported as StatusAlreadyQueued; a running item is queued again on the
// queue running it. Errors: ENODEV when the queue is not started, EBUSY
// when the queue is plugged or draining, or the item is being cancelled,
// and EADDRINUSE when a delayed item is bound to another queue.
func (q *Queue) Submit(w *Work) (Status, error) {
	owner, key := q.bind(w)
	status, err := owner.submitLocked(w, q)
	pending := owner.pending
	owner.lock.Unlock(key)

	owner.reportSubmit(status, err, pending)
	return status, err
}

// submitLocked is called with q's lock held and w bound to q. from is the
// queue the caller asked for.
func (q *Queue) submitLocked(w *Work, from *Queue) (Status, error) {
	flags := w.Busy()
	switch {
	case flags&FlagCanceling != 0:
		return StatusAlreadyQueued, fmt.Errorf("submit to %s: %w", from.name, errno.EBUSY)
	case flags&(FlagQueued|FlagDelayed) != 0:
		return StatusAlreadyQueued, nil
	case flags&FlagRunning != 0:
		if q.plugged {
			return StatusAlreadyQueued, fmt.Errorf("submit to %s: %w", q.name, errno.EBUSY)
		}
		q.push(w)
		return StatusRequeued, nil
	}

	if q != from {
		return StatusAlreadyQueued, fmt.Errorf("submit to %s: bound to %s: %w", from.name, q.name, errno.EADDRINUSE)
	}
	if err := q.accepting(); err != nil {
		q.unbindIdle(w)
		return StatusAlreadyQueued, err
	}
	q.push(w)
	return StatusQueued, nil
}

func (q *Queue) accepting() error {
	switch {
	case !q.started:
		return fmt.Errorf("submit to %s: %w", q.name, errno.ENODEV)
	case q.plugged || q.draining:
		return fmt.Errorf("submit to %s: %w", q.name, errno.EBUSY)
	}
	return nil
}

// bind locks the queue w is bound to, binding w to q when it is free. It
// returns the locked owner and its key.
func (q *Queue) bind(w *Work) (*Queue, irq.Key) {
	for {
		owner := w.owner.Load()
		target := owner
		if target == nil {
			target = q
		}
		key := target.lock.Lock()
		if owner == nil {
			if w.owner.CompareAndSwap(nil, q) {
				return q, key
			}
		} else if w.owner.Load() == owner {
			return owner, key
		}
		target.lock.Unlock(key)
	}
}

// lockOwner locks the queue w is bound to. It returns nil when w is free.
func lockOwner(w *Work) (*Queue, irq.Key) {
	for {
		owner := w.owner.Load()
		if owner == nil {
			return nil, 0
		}
		key := owner.lock.Lock()
		if w.owner.Load() == owner {
			return owner, key
		}
		owner.lock.Unlock(key)
	}
}

// unbindIdle releases an idle item. Delayed items keep their binding until
// cancelled, except when they never got anywhere.
func (q *Queue) unbindIdle(w *Work) {
	if w.Busy()&^FlagFlushing == 0 {
		w.owner.Store(nil)
	}
}

func (q *Queue) push(w *Work) {
	w.set(FlagQueued)
	w.queuedAt = time.Now()
	w.next = nil
	w.prev = q.tail
	if q.tail != nil {
		q.tail.next = w
	} else {
		q.head = w
	}
	q.tail = w
	q.pending++
	q.worker.WakeFirst(nil)
}

func (q *Queue) remove(w *Work) {
	if w.prev != nil {
		w.prev.next = w.next
	} else {
		q.head = w.next
	}
	if w.next != nil {
		w.next.prev = w.prev
	} else {
		q.tail = w.prev
	}
	w.prev, w.next = nil, nil
	w.clear(FlagQueued)
	q.pending--
}

func (q *Queue) pop() *Work {
	w := q.head
	if w != nil {
		q.remove(w)
	}
	return w
}

// loop is the worker thread.
func (q *Queue) loop(ctx context.Context) {
	for {
		key := q.lock.Lock()
		w := q.pop()
		if w == nil {
			if ctx.Err() != nil {
				q.lock.Unlock(key)
				return
			}
			if _, err := q.worker.Pend(ctx, &q.lock, key, clock.Forever, nil); err != nil {
				return
			}
			continue
		}
		w.set(FlagRunning)
		q.current = w
		latency := time.Since(w.queuedAt)
		pending := q.pending
		q.lock.Unlock(key)
		q.metrics.SetWorkPending(q.name, pending)

		start := time.Now()
		span := q.tracer.Begin("workq.run", q.name)
		q.run(w)
		q.tracer.End(span, nil)
		q.processed.Add(1)
		q.metrics.RecordWorkRun(q.name, latency, time.Since(start))

		key = q.lock.Lock()
		q.finish(w)
		q.lock.Unlock(key)

		if !q.noYield {
			runtime.Gosched()
		}
	}
}

func (q *Queue) run(w *Work) {
	defer fatal.Recover("workq:" + q.name)
	w.handler(w)
}

// finish is called with q's lock held after w's handler returned.
func (q *Queue) finish(w *Work) {
	q.current = nil
	w.clear(FlagRunning | FlagCanceling)
	if !w.has(FlagQueued | FlagDelayed) {
		w.clear(FlagFlushing)
		w.done.WakeAll(nil)
		if w.delayed == nil {
			w.owner.Store(nil)
		}
	}
	if q.draining && q.head == nil {
		q.draining = false
		q.drainers.WakeAll(nil)
	}
}

// Drain blocks until the queue is empty and idle. New submissions are
// rejected with EBUSY while draining, except re-submission of the running
// item. With plug set the queue keeps rejecting submissions until Unplug.
// It reports whether it had to wait.
func (q *Queue) Drain(ctx context.Context, plug bool) (bool, error) {
	key := q.lock.Lock()
	if !q.started {
		q.lock.Unlock(key)
		return false, fmt.Errorf("drain %s: %w", q.name, errno.ENODEV)
	}
	if plug {
		q.plugged = true
	}
	if q.head == nil && q.current == nil {
		q.lock.Unlock(key)
		return false, nil
	}
	q.draining = true
	if _, err := q.drainers.Pend(ctx, &q.lock, key, clock.Forever, nil); err != nil {
		return true, fmt.Errorf("drain %s: %w", q.name, err)
	}
	return true, nil
}

// Unplug lets a plugged queue accept submissions again. It returns
// EALREADY when the queue is not plugged.
func (q *Queue) Unplug() error {
	key := q.lock.Lock()
	defer q.lock.Unlock(key)
	if !q.plugged {
		return fmt.Errorf("unplug %s: %w", q.name, errno.EALREADY)
	}
	q.plugged = false
	return nil
}

// Thread returns the worker thread, or nil before Start.
func (q *Queue) Thread() *thread.Thread {
	key := q.lock.Lock()
	defer q.lock.Unlock(key)
	return q.thread
}

// Stats returns a snapshot of the queue.
func (q *Queue) Stats() Stats {
	key := q.lock.Lock()
	s := Stats{
		ID:       q.id.String(),
		Name:     q.name,
		Pending:  q.pending,
		Started:  q.started,
		Draining: q.draining,
		Plugged:  q.plugged,
		Running:  q.current != nil,
	}
	if q.thread != nil {
		s.ThreadID = q.thread.ID().String()
	}
	q.lock.Unlock(key)
	s.Processed = q.processed.Load()
	return s
}

func (q *Queue) reportSubmit(status Status, err error, pending int) {
	result := status.String()
	if err != nil {
		result = errno.Name(err)
		q.logger.Debug("work submit rejected", zap.Error(err))
	}
	q.metrics.RecordWorkSubmit(q.name, result)
	if pending >= 0 {
		q.metrics.SetWorkPending(q.name, pending)
	}
	q.tracer.Event("workq.submit", q.name, err, "result", result)
}
