package irq

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/kcore/internal/kernel/errno"
	"github.com/GriffinCanCode/kcore/internal/kernel/fatal"
	"go.uber.org/zap"
)

// Key is the mask depth seen by Lock. The depth is shared by every
// goroutine masking the controller, so keys from concurrent contexts
// interleave and Unlock does not check them against the current depth.
type Key uint32

// Handler is an interrupt service routine.
type Handler func()

// Line identifies an allocated interrupt line.
type Line int

type line struct {
	name     string
	handler  Handler
	enabled  atomic.Bool
	pending  atomic.Bool
	released atomic.Bool
	count    atomic.Uint64
}

// Controller is an interrupt controller with its own dispatcher.
type Controller struct {
	depth      atomic.Int32
	anyPending atomic.Bool

	mu    sync.RWMutex
	lines []*line

	kick    chan struct{}
	done    chan struct{}
	start   sync.Once
	stopped sync.Once

	delivered atomic.Uint64
	latched   atomic.Uint64
	logger    *zap.Logger
}

// Stats is a snapshot of controller counters.
type Stats struct {
	Lines     int    `json:"lines"`
	Masked    bool   `json:"masked"`
	Depth     int    `json:"depth"`
	Delivered uint64 `json:"delivered"`
	Latched   uint64 `json:"latched"`
}

// New creates a controller. The dispatcher starts with the first Allocate.
func New(logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

var std = New(nil)

// Default returns the system interrupt controller.
func Default() *Controller {
	return std
}

// Lock masks interrupt delivery on the default controller.
func Lock() Key { return std.Lock() }

// Unlock restores the mask state recorded in key on the default controller.
func Unlock(key Key) { std.Unlock(key) }

// Allocate allocates a line on the default controller.
func Allocate(name string, h Handler) (Line, error) { return std.Allocate(name, h) }

// Trigger raises a line on the default controller.
func Trigger(l Line) error { return std.Trigger(l) }

// Lock masks interrupt delivery and returns the key for Unlock.
func (c *Controller) Lock() Key {
	return Key(c.depth.Add(1) - 1)
}

// Unlock drops one level of masking and delivers latched lines once the
// depth reaches zero. Out-of-order unlocks are not detected; unlocking a
// controller that is not masked is fatal.
func (c *Controller) Unlock(key Key) {
	d := c.depth.Add(-1)
	if d < 0 {
		c.depth.Add(1)
		fatal.Panic(&fatal.Error{
			Module:  "irq",
			Reason:  fatal.ReasonAssert,
			Message: fmt.Sprintf("unlock with key %d while unmasked", key),
		})
		return
	}
	if d == 0 && c.anyPending.Load() {
		c.signal()
	}
}

// Masked reports whether delivery is currently masked.
func (c *Controller) Masked() bool {
	return c.depth.Load() > 0
}

// Allocate registers handler on a new, enabled line.
func (c *Controller) Allocate(name string, h Handler) (Line, error) {
	if h == nil {
		return -1, fmt.Errorf("allocate %q: %w", name, errno.EINVAL)
	}
	c.start.Do(func() { go c.dispatch() })

	ln := &line{name: name, handler: h}
	ln.enabled.Store(true)

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, old := range c.lines {
		if old.released.Load() {
			c.lines[i] = ln
			return Line(i), nil
		}
	}
	c.lines = append(c.lines, ln)
	return Line(len(c.lines) - 1), nil
}

// Release frees a line. A pending trigger on it is discarded.
func (c *Controller) Release(l Line) error {
	ln, err := c.get(l)
	if err != nil {
		return err
	}
	ln.enabled.Store(false)
	ln.pending.Store(false)
	ln.released.Store(true)
	return nil
}

// Trigger raises l. It never blocks and may be called from any context.
func (c *Controller) Trigger(l Line) error {
	ln, err := c.get(l)
	if err != nil {
		return err
	}
	ln.pending.Store(true)
	c.anyPending.Store(true)
	if c.depth.Load() == 0 && ln.enabled.Load() {
		c.signal()
	} else {
		c.latched.Add(1)
	}
	return nil
}

// Enable unmasks a single line, delivering a latched trigger.
func (c *Controller) Enable(l Line) error {
	ln, err := c.get(l)
	if err != nil {
		return err
	}
	ln.enabled.Store(true)
	if ln.pending.Load() && c.depth.Load() == 0 {
		c.signal()
	}
	return nil
}

// Disable masks a single line. Triggers are latched until Enable.
func (c *Controller) Disable(l Line) error {
	ln, err := c.get(l)
	if err != nil {
		return err
	}
	ln.enabled.Store(false)
	return nil
}

// Count returns how many times l's handler ran.
func (c *Controller) Count(l Line) uint64 {
	ln, err := c.get(l)
	if err != nil {
		return 0
	}
	return ln.count.Load()
}

// Stats returns controller counters.
func (c *Controller) Stats() Stats {
	c.mu.RLock()
	n := 0
	for _, ln := range c.lines {
		if !ln.released.Load() {
			n++
		}
	}
	c.mu.RUnlock()
	d := c.depth.Load()
	return Stats{
		Lines:     n,
		Masked:    d > 0,
		Depth:     int(d),
		Delivered: c.delivered.Load(),
		Latched:   c.latched.Load(),
	}
}

// Close stops the dispatcher. Latched triggers are dropped.
func (c *Controller) Close() {
	c.stopped.Do(func() { close(c.done) })
}

func (c *Controller) get(l Line) (*line, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if l < 0 || int(l) >= len(c.lines) || c.lines[l].released.Load() {
		return nil, fmt.Errorf("irq line %d: %w", l, errno.EINVAL)
	}
	return c.lines[l], nil
}

func (c *Controller) signal() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// dispatch is the interrupt context. A kick is only sent after the mask
// reached zero, so pending lines are delivered without re-checking depth.
func (c *Controller) dispatch() {
	for {
		select {
		case <-c.done:
			return
		case <-c.kick:
		}

		c.anyPending.Store(false)
		c.mu.RLock()
		lines := append([]*line(nil), c.lines...)
		c.mu.RUnlock()

		for _, ln := range lines {
			if !ln.enabled.Load() {
				if ln.pending.Load() {
					c.anyPending.Store(true)
				}
				continue
			}
			if !ln.pending.CompareAndSwap(true, false) {
				continue
			}
			c.run(ln)
		}
	}
}

func (c *Controller) run(ln *line) {
	defer fatal.Recover("irq:" + ln.name)
	ln.count.Add(1)
	c.delivered.Add(1)
	ln.handler()
}
