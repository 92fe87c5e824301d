// Package spinlock provides the kernel spinlock.
//
// A spinlock first masks interrupts and then busy-waits for the lock word,
// so a section guarded by it excludes both other threads and interrupt
// handlers that take the same lock. Spinlocks are not reentrant.
package spinlock

import (
	"runtime"
	"sync/atomic"

	"github.com/GriffinCanCode/kcore/internal/kernel/fatal"
	"github.com/GriffinCanCode/kcore/internal/kernel/irq"
)

// spinsBeforeYield bounds busy-waiting before yielding the processor.
const spinsBeforeYield = 64

// Spinlock implements a lock where each task trying to acquire it
// busy-waits till the lock becomes available. The zero value is unlocked.
type Spinlock struct {
	state uint32
}

// Lock masks interrupts, acquires the lock and returns the key that Unlock
// needs to restore the interrupt state. Re-acquiring a lock already held by
// the caller deadlocks.
func (l *Spinlock) Lock() irq.Key {
	key := irq.Lock()
	for spins := 0; !atomic.CompareAndSwapUint32(&l.state, 0, 1); spins++ {
		if spins >= spinsBeforeYield {
			runtime.Gosched()
			spins = 0
		}
	}
	return key
}

// TryLock attempts to acquire the lock without spinning. The key is only
// valid when ok is true.
func (l *Spinlock) TryLock() (key irq.Key, ok bool) {
	key = irq.Lock()
	if atomic.SwapUint32(&l.state, 1) == 0 {
		return key, true
	}
	irq.Unlock(key)
	return 0, false
}

// Unlock releases the lock and restores the interrupt state in key.
// Releasing a free lock is fatal.
func (l *Spinlock) Unlock(key irq.Key) {
	if !atomic.CompareAndSwapUint32(&l.state, 1, 0) {
		fatal.Panic(&fatal.Error{
			Module:  "spinlock",
			Reason:  fatal.ReasonAssert,
			Message: "unlock of a lock that is not held",
		})
		return
	}
	irq.Unlock(key)
}

// Held reports whether the lock is currently held by anyone.
func (l *Spinlock) Held() bool {
	return atomic.LoadUint32(&l.state) == 1
}
