// Package irq models the interrupt controller and the interrupt lock.
//
// Interrupt lines are allocated with a handler and raised with Trigger.
// Handlers run one at a time on the controller's dispatcher goroutine,
// which is the kernel's interrupt context: code running there must never
// block, so it may only take spinlocks, submit work and perform no-wait
// pipe transfers.
//
// Lock masks delivery and returns a Key; Unlock(key) restores the state
// the key recorded. Locks nest. Lines raised while masked are latched and
// delivered once the mask is fully released.
//
// Example Usage:
//
//	line, _ := irq.Allocate("uart0", func() { wq.Submit(rx) })
//	irq.Trigger(line)
//
//	key := irq.Lock()
//	defer irq.Unlock(key)
package irq
