// Package clock implements the kernel timeout subsystem.
//
// A Timeout expresses how long an operation may wait: NoWait, Forever or
// After(d). A Clock keeps armed timeout records ordered by deadline and
// runs each record's callback once its deadline passes. Callbacks run in
// interrupt context (on an irq line owned by the clock), in deadline order,
// with equal deadlines in arming order. They must not block.
//
// Example Usage:
//
//	clk := clock.New(clock.Options{})
//	defer clk.Close()
//
//	var rec clock.Record
//	_ = clk.Add(&rec, func() { wq.Submit(w) }, clock.After(50*time.Millisecond))
//	_ = clk.Abort(&rec) // EINVAL once the callback has been started
package clock
