// Package workq implements kernel work queues.
//
// A Queue is a FIFO of work items drained by one dedicated worker thread.
// Any context, including interrupt handlers, may submit work: submission
// only takes the queue's spinlock and never blocks. A work item is pending
// in at most one queue at a time; submitting a pending item is a no-op.
//
// Delayed work arms a timeout first and is queued when it fires. A delayed
// item stays bound to the queue it was scheduled on until it is cancelled,
// so scheduling it on a different queue fails with EADDRINUSE while
// rescheduling on the same queue replaces the previous deadline.
//
// Locking: each Queue has its own spinlock guarding its FIFO and the busy
// flags of every item bound to it. An item's owner pointer is only set from
// nil or cleared while holding the owning queue's lock, so operations lock
// the current owner and retry if it changed in between.
//
// Example Usage:
//
//	q := workq.New(threads, clk, workq.WithName("sysworkq"))
//	q.Start(workq.StartConfig{StackSize: 2048, Priority: -1})
//
//	w := workq.NewWork(func(*workq.Work) { flushUART() })
//	status, err := q.Submit(w)
//
//	d := workq.NewDelayedWork(func(*workq.Work) { debounce() })
//	err = q.SubmitDelayed(d, clock.After(10*time.Millisecond))
//	err = d.Cancel() // nil, EINVAL or EALREADY
package workq
