package workq

import (
	"context"
	"fmt"
	"time"

	"github.com/GriffinCanCode/kcore/internal/kernel/clock"
	"github.com/GriffinCanCode/kcore/internal/kernel/errno"
	"github.com/GriffinCanCode/kcore/internal/kernel/irq"
	"go.uber.org/zap"
)

// SubmitDelayed queues d on q after delay. A zero or NoWait delay submits
// at once; Forever arms d without a deadline so only Cancel releases it.
// Scheduling an item already armed or queued on q replaces the previous
// arming; only the new deadline is honored. EADDRINUSE is returned while d
// is bound to another queue.
func (q *Queue) SubmitDelayed(d *DelayedWork, delay clock.Timeout) error {
	owner, key := q.bind(&d.Work)
	if owner != q {
		owner.lock.Unlock(key)
		err := fmt.Errorf("submit delayed to %s: bound to %s: %w", q.name, owner.name, errno.EADDRINUSE)
		q.reportSubmit(StatusAlreadyQueued, err, -1)
		return err
	}
	if err := q.armable(d); err != nil {
		q.lock.Unlock(key)
		q.reportSubmit(StatusAlreadyQueued, err, -1)
		return err
	}

	if d.has(FlagDelayed) {
		q.disarm(d)
	}

	if !delay.IsForever() && delay.Duration() == 0 {
		// The submit path takes the lock itself.
		q.lock.Unlock(key)
		_, err := q.Submit(&d.Work)
		return err
	}

	if d.has(FlagQueued) {
		q.remove(&d.Work)
	}
	err := q.arm(d, delay)
	q.lock.Unlock(key)

	q.tracer.Event("workq.arm", q.name, err, "delay", delay.String())
	return err
}

// Schedule arms d only when it is neither delayed nor queued. It reports
// whether d was scheduled by this call.
func (q *Queue) Schedule(d *DelayedWork, delay clock.Timeout) (bool, error) {
	owner, key := q.bind(&d.Work)
	if owner != q {
		owner.lock.Unlock(key)
		return false, fmt.Errorf("schedule on %s: bound to %s: %w", q.name, owner.name, errno.EADDRINUSE)
	}
	if d.has(FlagQueued | FlagDelayed) {
		q.lock.Unlock(key)
		return false, nil
	}
	if err := q.armable(d); err != nil {
		q.lock.Unlock(key)
		return false, err
	}

	var err error
	if !delay.IsForever() && delay.Duration() == 0 {
		_, err = q.submitLocked(&d.Work, q)
	} else {
		err = q.arm(d, delay)
	}
	pending := q.pending
	q.lock.Unlock(key)

	if err != nil {
		return false, err
	}
	q.metrics.SetWorkPending(q.name, pending)
	return true, nil
}

// armable is called with q's lock held and d bound to q.
func (q *Queue) armable(d *DelayedWork) error {
	switch {
	case !q.started:
		q.unbindIdle(&d.Work)
		return fmt.Errorf("submit delayed to %s: %w", q.name, errno.ENODEV)
	case d.has(FlagCanceling):
		return fmt.Errorf("submit delayed to %s: %w", q.name, errno.EBUSY)
	case q.plugged:
		q.unbindIdle(&d.Work)
		return fmt.Errorf("submit delayed to %s: %w", q.name, errno.EBUSY)
	}
	return nil
}

// arm is called with q's lock held.
func (q *Queue) arm(d *DelayedWork, delay clock.Timeout) error {
	gen := d.gen.Add(1)
	if !delay.IsForever() {
		if q.clock == nil {
			q.unbindIdle(&d.Work)
			return fmt.Errorf("arm on %s: no clock: %w", q.name, errno.ENODEV)
		}
		if err := q.clock.Add(&d.timer, func() { q.expire(d, gen) }, delay); err != nil {
			q.unbindIdle(&d.Work)
			return fmt.Errorf("arm on %s: %w", q.name, err)
		}
	}
	d.set(FlagDelayed)
	return nil
}

// disarm is called with q's lock held. It stops d's timer and retires the
// current arming, so a callback the clock already popped is ignored.
func (q *Queue) disarm(d *DelayedWork) {
	if q.clock != nil {
		_ = q.clock.Abort(&d.timer)
	}
	d.gen.Add(1)
	d.clear(FlagDelayed)
}

// expire runs in interrupt context when the arming gen of d times out.
func (q *Queue) expire(d *DelayedWork, gen uint64) {
	owner, key := lockOwner(&d.Work)
	if owner == nil {
		return
	}
	if owner != q || !d.has(FlagDelayed) || d.gen.Load() != gen {
		owner.lock.Unlock(key)
		return
	}
	d.clear(FlagDelayed)

	if !q.started || q.plugged {
		q.unbindIdle(&d.Work)
		d.done.WakeAll(nil)
		q.lock.Unlock(key)
		q.logger.Warn("delayed work dropped at expiry", zap.Bool("started", q.started), zap.Bool("plugged", q.plugged))
		return
	}

	status := StatusQueued
	if d.has(FlagQueued) {
		status = StatusAlreadyQueued
	} else {
		if d.has(FlagRunning) {
			status = StatusRequeued
		}
		q.push(&d.Work)
	}
	pending := q.pending
	q.lock.Unlock(key)
	q.reportSubmit(status, nil, pending)
}

// Cancel cancels d. It returns nil when d was removed from the timer or
// from the queue and is not running, EINVAL when d is not bound to any
// queue, and EALREADY when d already fired and is running or has run. A
// queued copy of a running item is still removed, but the result is
// EALREADY since one run is in progress. The timer and queue checks happen
// under one lock, so a concurrent expiry either loses entirely or the
// handler runs exactly once.
func (d *DelayedWork) Cancel() error {
	owner, key := lockOwner(&d.Work)
	if owner == nil {
		return fmt.Errorf("cancel delayed: %w", errno.EINVAL)
	}
	if d.has(FlagCanceling) {
		owner.lock.Unlock(key)
		owner.metrics.RecordWorkCancel(owner.name, errno.EALREADY.Name())
		return fmt.Errorf("cancel delayed on %s: %w", owner.name, errno.EALREADY)
	}

	removed := owner.cancelLocked(&d.Work)
	running := d.has(FlagRunning)
	if !running {
		d.owner.Store(nil)
	}
	pending := owner.pending
	owner.lock.Unlock(key)

	owner.metrics.SetWorkPending(owner.name, pending)
	if removed && !running {
		owner.metrics.RecordWorkCancel(owner.name, "ok")
		owner.tracer.Event("workq.cancel", owner.name, nil)
		return nil
	}
	err := fmt.Errorf("cancel delayed on %s: %w", owner.name, errno.EALREADY)
	owner.metrics.RecordWorkCancel(owner.name, errno.EALREADY.Name())
	owner.tracer.Event("workq.cancel", owner.name, err)
	return err
}

// Remaining returns the time left before d fires, or 0 when not delayed.
func (d *DelayedWork) Remaining() time.Duration {
	owner, key := lockOwner(&d.Work)
	if owner == nil {
		return 0
	}
	defer owner.lock.Unlock(key)
	if !d.has(FlagDelayed) || owner.clock == nil {
		return 0
	}
	return owner.clock.Remaining(&d.timer)
}

// Expires returns d's deadline, or the zero time when not delayed.
func (d *DelayedWork) Expires() time.Time {
	owner, key := lockOwner(&d.Work)
	if owner == nil {
		return time.Time{}
	}
	defer owner.lock.Unlock(key)
	if !d.has(FlagDelayed) || owner.clock == nil {
		return time.Time{}
	}
	return owner.clock.Expires(&d.timer)
}

// Flush submits d at once if it is delayed and waits for it to finish. It
// reports whether it had to wait.
func (d *DelayedWork) Flush(ctx context.Context) (bool, error) {
	owner, key := lockOwner(&d.Work)
	if owner == nil {
		return false, nil
	}
	if d.has(FlagDelayed) {
		owner.disarm(d)
		if !d.has(FlagQueued) {
			owner.push(&d.Work)
		}
	}
	return d.Work.flushLocked(ctx, owner, key)
}

// Cancel removes w from its queue if it is queued and returns the busy
// flags left afterwards. A running handler is not interrupted.
func (w *Work) Cancel() Flags {
	owner, key := lockOwner(w)
	if owner == nil {
		return w.Busy()
	}
	owner.cancelLocked(w)
	if !w.has(FlagRunning) {
		w.owner.Store(nil)
	}
	flags := w.Busy()
	owner.lock.Unlock(key)
	return flags
}

// Flush waits until the last submitted instance of w has finished. It
// reports whether it had to wait.
func (w *Work) Flush(ctx context.Context) (bool, error) {
	owner, key := lockOwner(w)
	if owner == nil {
		return false, nil
	}
	return w.flushLocked(ctx, owner, key)
}

func (w *Work) flushLocked(ctx context.Context, owner *Queue, key irq.Key) (bool, error) {
	if !w.has(FlagQueued | FlagRunning) {
		owner.lock.Unlock(key)
		return false, nil
	}
	w.set(FlagFlushing)
	if _, err := w.done.Pend(ctx, &owner.lock, key, clock.Forever, nil); err != nil {
		return true, fmt.Errorf("flush on %s: %w", owner.name, err)
	}
	return true, nil
}

// CancelSync cancels w and waits for a running handler to return. It
// reports whether w was pending. Submissions fail with EBUSY meanwhile.
func (w *Work) CancelSync(ctx context.Context) (bool, error) {
	owner, key := lockOwner(w)
	if owner == nil {
		return false, nil
	}
	pending := w.has(FlagQueued | FlagDelayed | FlagRunning)
	owner.cancelLocked(w)
	if !w.has(FlagRunning) {
		w.owner.Store(nil)
		owner.lock.Unlock(key)
		return pending, nil
	}

	w.set(FlagCanceling)
	if _, err := w.done.Pend(ctx, &owner.lock, key, clock.Forever, nil); err != nil {
		return pending, fmt.Errorf("cancel sync on %s: %w", owner.name, err)
	}

	// Delayed items stay bound after running; release the binding too.
	if owner, key = lockOwner(w); owner != nil {
		if w.Busy()&^FlagFlushing == 0 {
			w.owner.Store(nil)
		}
		owner.lock.Unlock(key)
	}
	return pending, nil
}

// cancelLocked removes w from the timer and the FIFO. It is called with
// q's lock held and reports whether w was removed from either.
func (q *Queue) cancelLocked(w *Work) bool {
	removed := false
	if w.has(FlagDelayed) {
		if d := w.delayed; d != nil {
			q.disarm(d)
		}
		w.clear(FlagDelayed)
		removed = true
	}
	if w.has(FlagQueued) {
		q.remove(w)
		removed = true
	}
	if !w.has(FlagRunning) {
		w.clear(FlagFlushing)
		w.done.WakeAll(nil)
	}
	return removed
}
