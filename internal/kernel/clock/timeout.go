package clock

import (
	"context"
	"time"
)

type timeoutKind uint8

const (
	kindAfter timeoutKind = iota
	kindNoWait
	kindForever
)

// Timeout bounds how long an operation may wait.
type Timeout struct {
	d    time.Duration
	kind timeoutKind
}

var (
	// NoWait never waits.
	NoWait = Timeout{kind: kindNoWait}
	// Forever waits until the operation completes.
	Forever = Timeout{kind: kindForever}
)

// After returns a timeout of d. A non-positive d is NoWait.
func After(d time.Duration) Timeout {
	if d <= 0 {
		return NoWait
	}
	return Timeout{d: d, kind: kindAfter}
}

// Millis is shorthand for After(ms milliseconds).
func Millis(ms int) Timeout {
	return After(time.Duration(ms) * time.Millisecond)
}

// IsNoWait reports whether t never waits.
func (t Timeout) IsNoWait() bool { return t.kind == kindNoWait }

// IsForever reports whether t waits without bound.
func (t Timeout) IsForever() bool { return t.kind == kindForever }

// Duration returns the wait length. It is 0 for NoWait and -1 for Forever.
func (t Timeout) Duration() time.Duration {
	switch t.kind {
	case kindNoWait:
		return 0
	case kindForever:
		return -1
	default:
		return t.d
	}
}

// String formats t for logs.
func (t Timeout) String() string {
	switch t.kind {
	case kindNoWait:
		return "no-wait"
	case kindForever:
		return "forever"
	default:
		return t.d.String()
	}
}

// FromDuration maps a duration to a Timeout: negative is Forever, zero is
// NoWait. Used for configuration and API parameters.
func FromDuration(d time.Duration) Timeout {
	switch {
	case d < 0:
		return Forever
	case d == 0:
		return NoWait
	default:
		return After(d)
	}
}

// Sleep blocks the calling thread for t or until ctx is done.
func Sleep(ctx context.Context, t Timeout) error {
	switch {
	case t.IsNoWait():
		return ctx.Err()
	case t.IsForever():
		<-ctx.Done()
		return ctx.Err()
	}
	timer := time.NewTimer(t.d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
