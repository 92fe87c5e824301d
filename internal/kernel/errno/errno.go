// Package errno defines the kernel's error codes.
//
// Every kernel operation that can fail returns one of the Errno values
// below (possibly wrapped). Each value carries the negative POSIX-style
// integer code, which the admin API reports unchanged.
//
// Example Usage:
//
//	if err := dw.Cancel(); errors.Is(err, errno.EALREADY) {
//		// handler already fired
//	}
package errno

import (
	"errors"
	"fmt"
)

// Errno is a kernel error code.
type Errno int

const (
	// EINVAL reports an invalid argument or an object in the wrong state.
	EINVAL Errno = 22
	// EADDRINUSE reports an object already bound to another owner.
	EADDRINUSE Errno = 98
	// EALREADY reports that the operation already happened.
	EALREADY Errno = 114
	// EAGAIN reports a timed-out wait or a resource that is not ready.
	EAGAIN Errno = 11
	// EIO reports a no-wait request that could not be satisfied at all.
	EIO Errno = 5
	// EBUSY reports an object that cannot accept the request right now.
	EBUSY Errno = 16
	// ENODEV reports a queue or device that has not been started.
	ENODEV Errno = 19
	// ENOMEM reports resource exhaustion.
	ENOMEM Errno = 12
)

var names = map[Errno]string{
	EINVAL:     "EINVAL",
	EADDRINUSE: "EADDRINUSE",
	EALREADY:   "EALREADY",
	EAGAIN:     "EAGAIN",
	EIO:        "EIO",
	EBUSY:      "EBUSY",
	ENODEV:     "ENODEV",
	ENOMEM:     "ENOMEM",
}

var messages = map[Errno]string{
	EINVAL:     "invalid argument",
	EADDRINUSE: "already bound to another owner",
	EALREADY:   "operation already in progress or done",
	EAGAIN:     "try again",
	EIO:        "no data transferred",
	EBUSY:      "busy",
	ENODEV:     "not started",
	ENOMEM:     "out of resources",
}

// Error implements error.
func (e Errno) Error() string {
	if msg, ok := messages[e]; ok {
		return msg
	}
	return fmt.Sprintf("errno %d", int(e))
}

// Name returns the symbolic name, e.g. "EAGAIN".
func (e Errno) Name() string {
	if name, ok := names[e]; ok {
		return name
	}
	return fmt.Sprintf("E%d", int(e))
}

// Code returns the negative value returned by the C API.
func (e Errno) Code() int {
	return -int(e)
}

// Code extracts the negative code from err. A nil error maps to 0 and an
// error without an Errno in its chain maps to -EINVAL.
func Code(err error) int {
	if err == nil {
		return 0
	}
	var e Errno
	if errors.As(err, &e) {
		return e.Code()
	}
	return EINVAL.Code()
}

// Name returns the symbolic name of the Errno in err's chain, or "" for
// nil and "UNKNOWN" when no Errno is present.
func Name(err error) string {
	if err == nil {
		return ""
	}
	var e Errno
	if errors.As(err, &e) {
		return e.Name()
	}
	return "UNKNOWN"
}
