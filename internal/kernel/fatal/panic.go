package fatal

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Reason classifies a fatal error.
type Reason int

const (
	ReasonPanic Reason = iota
	ReasonOops
	ReasonAssert
	ReasonEssential
)

// String returns the reason name.
func (r Reason) String() string {
	switch r {
	case ReasonPanic:
		return "panic"
	case ReasonOops:
		return "oops"
	case ReasonAssert:
		return "assert"
	case ReasonEssential:
		return "essential"
	default:
		return "unknown"
	}
}

// Error describes a fatal kernel error.
type Error struct {
	Module  string
	Reason  Reason
	Message string
	Err     error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Module, e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Module, e.Reason, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// ExitCode is the process exit status used by the default halt function.
const ExitCode = 70

var (
	mu     sync.RWMutex
	logger = zap.NewNop()
	haltFn = defaultHalt
)

func defaultHalt(*Error) {
	_ = current().Sync()
	os.Exit(ExitCode)
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLogger sets the logger fatal errors are reported to.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	logger = l
	mu.Unlock()
}

// SetHaltFunc replaces the halt function and returns a func restoring the
// previous one. Tests use it to observe fatal errors without exiting.
func SetHaltFunc(fn func(*Error)) (restore func()) {
	mu.Lock()
	prev := haltFn
	haltFn = fn
	mu.Unlock()
	return func() {
		mu.Lock()
		haltFn = prev
		mu.Unlock()
	}
}

// Panic reports an unrecoverable error and halts. e may be an *Error, an
// error or a string. When the halt function returns (tests), so does Panic.
func Panic(e any) {
	err := toError(e)

	current().Error("kernel fatal error, system halted",
		zap.String("module", err.Module),
		zap.String("reason", err.Reason.String()),
		zap.String("message", err.Message),
		zap.Error(err.Err),
		zap.Stack("stack"),
	)

	mu.RLock()
	halt := haltFn
	mu.RUnlock()
	halt(err)
}

// Assert panics with ReasonAssert when cond is false.
func Assert(cond bool, module, format string, args ...any) {
	if cond {
		return
	}
	Panic(&Error{Module: module, Reason: ReasonAssert, Message: fmt.Sprintf(format, args...)})
}

// Recover turns a panic in the calling goroutine into a fatal error. It
// must be deferred directly.
func Recover(module string) {
	r := recover()
	if r == nil {
		return
	}
	err := &Error{Module: module, Reason: ReasonOops, Message: "goroutine panicked"}
	switch v := r.(type) {
	case *Error:
		err = v
	case error:
		err.Err = v
	default:
		err.Message = fmt.Sprintf("goroutine panicked: %v", v)
	}
	Panic(err)
}

func toError(e any) *Error {
	switch v := e.(type) {
	case *Error:
		return v
	case error:
		return &Error{Module: "kernel", Reason: ReasonPanic, Message: v.Error(), Err: v}
	case string:
		return &Error{Module: "kernel", Reason: ReasonPanic, Message: v}
	default:
		return &Error{Module: "kernel", Reason: ReasonPanic, Message: fmt.Sprint(v)}
	}
}
