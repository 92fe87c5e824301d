// Package fatal implements the kernel's fatal-error handler.
//
// Conditions the kernel cannot recover from (an unpaired interrupt unlock,
// starting a work queue twice, a crashing essential thread, a panicking
// work handler) are reported through Panic. Panic logs the error and then
// halts the system through a replaceable halt function.
//
// Reasons:
//   - ReasonPanic: explicit kernel panic
//   - ReasonOops: a kernel-owned goroutine crashed
//   - ReasonAssert: an internal invariant was violated
//   - ReasonEssential: an essential thread exited
//
// Example Usage:
//
//	go func() {
//		defer fatal.Recover("workq")
//		runHandler()
//	}()
package fatal
