package clock

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/kcore/internal/kernel/errno"
	"github.com/GriffinCanCode/kcore/internal/kernel/irq"
	"github.com/GriffinCanCode/kcore/internal/kernel/spinlock"
	"go.uber.org/zap"
)

// Callback runs when a record expires.
type Callback func()

// Record is a timeout record. It is owned by the caller and may be embedded
// in other kernel objects; the zero value is an idle record.
type Record struct {
	fn       Callback
	deadline time.Time
	seq      uint64
	index    int
	clock    *Clock
}

// Options configures a Clock.
type Options struct {
	Name   string
	IRQ    *irq.Controller
	Logger *zap.Logger
}

// Clock is the timeout subsystem.
type Clock struct {
	name   string
	lock   spinlock.Spinlock
	timers timerHeap
	seq    uint64
	start  time.Time

	ctrl *irq.Controller
	line irq.Line

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

// New creates a clock and starts its timer goroutine.
func New(opts Options) *Clock {
	if opts.Name == "" {
		opts.Name = "sysclock"
	}
	if opts.IRQ == nil {
		opts.IRQ = irq.Default()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Clock{
		name:   opts.Name,
		start:  time.Now(),
		ctrl:   opts.IRQ,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: opts.Logger,
	}
	line, err := c.ctrl.Allocate(c.name, c.expire)
	if err != nil {
		// Allocate only fails for a nil handler.
		panic(fmt.Sprintf("clock: allocate irq: %v", err))
	}
	c.line = line

	go c.run()
	return c
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	return time.Now()
}

// Uptime returns the time since the clock started.
func (c *Clock) Uptime() time.Duration {
	return time.Since(c.start)
}

// Add arms rec to call fn after t. NoWait expires on the next tick. Forever
// cannot be armed and returns EINVAL; EBUSY is returned for a record that is
// already armed.
func (c *Clock) Add(rec *Record, fn Callback, t Timeout) error {
	if rec == nil || fn == nil || t.IsForever() {
		return fmt.Errorf("clock add: %w", errno.EINVAL)
	}

	key := c.lock.Lock()
	if rec.clock != nil && rec.index >= 0 {
		c.lock.Unlock(key)
		return fmt.Errorf("clock add: %w", errno.EBUSY)
	}
	c.seq++
	rec.fn = fn
	rec.deadline = time.Now().Add(t.Duration())
	rec.seq = c.seq
	rec.clock = c
	heap.Push(&c.timers, rec)
	first := rec.index == 0
	c.lock.Unlock(key)

	if first {
		c.notify()
	}
	return nil
}

// Abort disarms rec. It returns EINVAL when rec is not armed on c, which
// includes a record whose callback has already been started.
func (c *Clock) Abort(rec *Record) error {
	key := c.lock.Lock()
	defer c.lock.Unlock(key)
	if rec == nil || rec.clock != c || rec.index < 0 {
		return fmt.Errorf("clock abort: %w", errno.EINVAL)
	}
	heap.Remove(&c.timers, rec.index)
	rec.index = -1
	rec.clock = nil
	return nil
}

// Active reports whether rec is armed on c.
func (c *Clock) Active(rec *Record) bool {
	key := c.lock.Lock()
	defer c.lock.Unlock(key)
	return rec.clock == c && rec.index >= 0
}

// Remaining returns the time until rec expires, or 0 if it is not armed.
func (c *Clock) Remaining(rec *Record) time.Duration {
	key := c.lock.Lock()
	defer c.lock.Unlock(key)
	if rec.clock != c || rec.index < 0 {
		return 0
	}
	if d := time.Until(rec.deadline); d > 0 {
		return d
	}
	return 0
}

// Expires returns rec's deadline, or the zero time if it is not armed.
func (c *Clock) Expires(rec *Record) time.Time {
	key := c.lock.Lock()
	defer c.lock.Unlock(key)
	if rec.clock != c || rec.index < 0 {
		return time.Time{}
	}
	return rec.deadline
}

// Pending returns the number of armed records.
func (c *Clock) Pending() int {
	key := c.lock.Lock()
	defer c.lock.Unlock(key)
	return c.timers.Len()
}

// Close stops the timer goroutine and releases the irq line. Armed records
// never fire afterwards.
func (c *Clock) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ctrl.Release(c.line)
	})
}

func (c *Clock) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// run sleeps until the earliest deadline and raises the clock's line.
func (c *Clock) run() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		key := c.lock.Lock()
		var (
			next  time.Time
			armed = c.timers.Len() > 0
		)
		if armed {
			next = c.timers[0].deadline
		}
		c.lock.Unlock(key)

		var fire <-chan time.Time
		if armed {
			d := time.Until(next)
			if d <= 0 {
				if err := c.ctrl.Trigger(c.line); err != nil {
					return
				}
				// expire notifies once the due records are handled.
				select {
				case <-c.wake:
					continue
				case <-c.done:
					return
				}
			}
			timer.Reset(d)
			fire = timer.C
		}

		select {
		case <-fire:
		case <-c.wake:
			if !timer.Stop() && fire != nil {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-c.done:
			return
		}
	}
}

// expire runs in interrupt context.
func (c *Clock) expire() {
	defer c.notify()
	now := time.Now()
	for {
		key := c.lock.Lock()
		if c.timers.Len() == 0 || c.timers[0].deadline.After(now) {
			c.lock.Unlock(key)
			return
		}
		rec := heap.Pop(&c.timers).(*Record)
		rec.index = -1
		rec.clock = nil
		fn := rec.fn
		c.lock.Unlock(key)

		fn()
	}
}

// timerHeap orders records by deadline, then arming order.
type timerHeap []*Record

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	rec := x.(*Record)
	rec.index = len(*h)
	*h = append(*h, rec)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	rec := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return rec
}
