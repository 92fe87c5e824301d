// Package kernel assembles the kernel core: the interrupt controller, the
// timeout clock, the thread manager, the system work queue and a registry
// of named pipes.
//
// Boot order is clock, threads, system work queue, boot pipes. Shutdown
// runs it backwards and is safe to call more than once.
//
// Example Usage:
//
//	k, err := kernel.New(cfg.Kernel, logger, metrics, tracer)
//	if err != nil {
//		return err
//	}
//	defer k.Shutdown(ctx)
//
//	k.SysWorkQ().Submit(workq.NewWork(handler))
package kernel
