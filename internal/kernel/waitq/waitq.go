// Package waitq implements the kernel's wait queues.
//
// A thread pends on a Queue while holding the spinlock that guards the
// queue; Pend releases the lock and parks the thread until another context
// wakes it or the timeout passes. Waiters are woken in arrival order. All
// operations other than Pend must be called with the guarding spinlock held
// and never block, so they are safe from interrupt context.
package waitq

import (
	"context"
	"fmt"
	"time"

	"github.com/GriffinCanCode/kcore/internal/kernel/clock"
	"github.com/GriffinCanCode/kcore/internal/kernel/errno"
	"github.com/GriffinCanCode/kcore/internal/kernel/irq"
	"github.com/GriffinCanCode/kcore/internal/kernel/spinlock"
)

// Waiter is a parked thread. Data carries the pender's request descriptor.
type Waiter struct {
	Data any

	wake       chan any
	queue      *Queue
	prev, next *Waiter
}

// Queue is a FIFO of waiters. The zero value is an empty queue.
type Queue struct {
	head, tail *Waiter
	n          int
}

// Len returns the number of parked waiters.
func (q *Queue) Len() int { return q.n }

// Empty reports whether no waiter is parked.
func (q *Queue) Empty() bool { return q.n == 0 }

// First returns the oldest waiter, or nil.
func (q *Queue) First() *Waiter { return q.head }

// Walk calls fn for each waiter in arrival order until fn returns false.
// fn may wake the waiter it is given.
func (q *Queue) Walk(fn func(w *Waiter) bool) {
	for w := q.head; w != nil; {
		next := w.next
		if !fn(w) {
			return
		}
		w = next
	}
}

// Pend parks the caller on q. It must be called holding lock, locked with
// key; the lock is released before parking and not held on return. It
// returns the value passed to Wake, EAGAIN when t elapses first, or the
// context error.
func (q *Queue) Pend(ctx context.Context, lock *spinlock.Spinlock, key irq.Key, t clock.Timeout, data any) (any, error) {
	if t.IsNoWait() {
		lock.Unlock(key)
		return nil, fmt.Errorf("pend: %w", errno.EAGAIN)
	}

	w := &Waiter{Data: data, wake: make(chan any, 1)}
	q.push(w)
	lock.Unlock(key)

	var expired <-chan time.Time
	if !t.IsForever() {
		timer := time.NewTimer(t.Duration())
		defer timer.Stop()
		expired = timer.C
	}

	var cause error
	select {
	case v := <-w.wake:
		return v, nil
	case <-expired:
		cause = errno.EAGAIN
	case <-ctx.Done():
		cause = ctx.Err()
	}

	key = lock.Lock()
	if w.queue == q {
		q.remove(w)
		lock.Unlock(key)
		return nil, fmt.Errorf("pend: %w", cause)
	}
	lock.Unlock(key)
	// Woken while timing out; the value is already buffered.
	return <-w.wake, nil
}

// Wake removes w from its queue and resumes it with v. It reports false if
// w was not parked.
func (q *Queue) Wake(w *Waiter, v any) bool {
	if w == nil || w.queue != q {
		return false
	}
	q.remove(w)
	w.wake <- v
	return true
}

// WakeFirst resumes the oldest waiter with v and returns it, or nil.
func (q *Queue) WakeFirst(v any) *Waiter {
	w := q.head
	if w == nil {
		return nil
	}
	q.Wake(w, v)
	return w
}

// WakeAll resumes every waiter with v and returns how many were woken.
func (q *Queue) WakeAll(v any) int {
	n := 0
	for q.head != nil {
		q.Wake(q.head, v)
		n++
	}
	return n
}

func (q *Queue) push(w *Waiter) {
	w.queue = q
	w.prev = q.tail
	if q.tail != nil {
		q.tail.next = w
	} else {
		q.head = w
	}
	q.tail = w
	q.n++
}

func (q *Queue) remove(w *Waiter) {
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
	w.prev, w.next, w.queue = nil, nil, nil
	q.n--
}
