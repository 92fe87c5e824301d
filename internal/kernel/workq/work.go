package workq

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/kcore/internal/kernel/clock"
	"github.com/GriffinCanCode/kcore/internal/kernel/waitq"
)

// Flags is a work item's busy state.
type Flags uint32

const (
	// FlagRunning is set while the handler executes.
	FlagRunning Flags = 1 << iota
	// FlagCanceling is set while CancelSync waits for a running handler.
	FlagCanceling
	// FlagQueued is set while the item sits in a queue's FIFO.
	FlagQueued
	// FlagDelayed is set while a delayed item waits for its timeout.
	FlagDelayed
	// FlagFlushing is set while a Flush caller waits for the item.
	FlagFlushing
)

var flagNames = []struct {
	f    Flags
	name string
}{
	{FlagRunning, "running"},
	{FlagCanceling, "canceling"},
	{FlagQueued, "queued"},
	{FlagDelayed, "delayed"},
	{FlagFlushing, "flushing"},
}

// String lists the set flags, or "idle".
func (f Flags) String() string {
	if f == 0 {
		return "idle"
	}
	var parts []string
	for _, fn := range flagNames {
		if f&fn.f != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// Status reports what Submit did.
type Status int

const (
	// StatusAlreadyQueued means the item was already pending; nothing changed.
	StatusAlreadyQueued Status = iota
	// StatusQueued means the item was appended to the queue.
	StatusQueued
	// StatusRequeued means the item was running and was queued again on the
	// queue running it.
	StatusRequeued
)

// String returns a metric-friendly status name.
func (s Status) String() string {
	switch s {
	case StatusAlreadyQueued:
		return "already_queued"
	case StatusQueued:
		return "queued"
	case StatusRequeued:
		return "requeued"
	default:
		return "unknown"
	}
}

// Handler is a work item's body. It runs on the worker thread with no
// kernel lock held.
type Handler func(w *Work)

// Work is a work item. It is owned by its creator; queues only reference
// it while it is pending or running.
type Work struct {
	handler Handler
	flags   atomic.Uint32
	owner   atomic.Pointer[Queue]

	// FIFO links and bookkeeping, guarded by the owner's lock.
	prev, next *Work
	queuedAt   time.Time
	done       waitq.Queue

	delayed *DelayedWork
}

// NewWork returns a work item running h.
func NewWork(h Handler) *Work {
	w := &Work{}
	w.Init(h)
	return w
}

// Init prepares a statically allocated work item. It must not be called
// while the item is busy.
func (w *Work) Init(h Handler) {
	w.handler = h
	w.flags.Store(0)
	w.owner.Store(nil)
	w.prev, w.next = nil, nil
}

// Busy returns a snapshot of the item's busy flags.
func (w *Work) Busy() Flags {
	return Flags(w.flags.Load())
}

// Pending reports whether the item is queued, delayed or running.
func (w *Work) Pending() bool {
	return w.Busy()&(FlagQueued|FlagDelayed|FlagRunning) != 0
}

// Queue returns the queue the item is bound to, or nil.
func (w *Work) Queue() *Queue {
	return w.owner.Load()
}

// Delayed returns the delayed item embedding w, or nil for plain work.
func (w *Work) Delayed() *DelayedWork {
	return w.delayed
}

func (w *Work) has(f Flags) bool { return Flags(w.flags.Load())&f != 0 }

// set and clear are called with the owner's lock held.
func (w *Work) set(f Flags)   { w.flags.Store(w.flags.Load() | uint32(f)) }
func (w *Work) clear(f Flags) { w.flags.Store(w.flags.Load() &^ uint32(f)) }

// DelayedWork is a work item submitted after a timeout.
type DelayedWork struct {
	Work
	timer clock.Record
	// gen identifies the current arming. An expiry carrying an older
	// generation lost a race with disarm and is ignored.
	gen atomic.Uint64
}

// NewDelayedWork returns a delayed work item running h.
func NewDelayedWork(h Handler) *DelayedWork {
	d := &DelayedWork{}
	d.Init(h)
	return d
}

// Init prepares a statically allocated delayed work item.
func (d *DelayedWork) Init(h Handler) {
	d.Work.Init(h)
	d.Work.delayed = d
	d.timer = clock.Record{}
	d.gen.Add(1)
}
