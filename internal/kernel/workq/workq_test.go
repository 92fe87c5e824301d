package workq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GriffinCanCode/kcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/kcore/internal/kernel/clock"
	"github.com/GriffinCanCode/kcore/internal/kernel/errno"
	"github.com/GriffinCanCode/kcore/internal/kernel/fatal"
	"github.com/GriffinCanCode/kcore/internal/kernel/irq"
	"github.com/GriffinCanCode/kcore/internal/kernel/thread"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	ctrl    *irq.Controller
	clock   *clock.Clock
	threads *thread.Manager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctrl := irq.New(nil)
	clk := clock.New(clock.Options{Name: "workq-test", IRQ: ctrl})
	e := &env{ctrl: ctrl, clock: clk, threads: thread.NewManager(clk, thread.DefaultLimits())}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.threads.Shutdown(ctx)
		clk.Close()
		ctrl.Close()
	})
	return e
}

func (e *env) queue(t *testing.T, name string, opts ...Option) *Queue {
	t.Helper()
	q := New(e.threads, e.clock, append([]Option{WithName(name)}, opts...)...)
	q.Start(StartConfig{StackSize: 1024, Priority: 5})
	return q
}

// blocker occupies the worker until release is closed.
func blocker(t *testing.T, q *Queue) (release func()) {
	t.Helper()
	started := make(chan struct{})
	gate := make(chan struct{})
	w := NewWork(func(*Work) {
		close(started)
		<-gate
	})
	_, err := q.Submit(w)
	require.NoError(t, err)
	<-started
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func TestSubmitTwiceRunsOnce(t *testing.T) {
	e := newEnv(t)
	q := e.queue(t, "q")
	release := blocker(t, q)

	var runs atomic.Int32
	w := NewWork(func(*Work) { runs.Add(1) })

	status, err := q.Submit(w)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, status)

	status, err = q.Submit(w)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyQueued, status)
	assert.Equal(t, 1, q.Stats().Pending)
	assert.Equal(t, FlagQueued, w.Busy())

	release()
	waitFor(t, func() bool { return runs.Load() == 1 && !w.Pending() })
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	assert.Nil(t, w.Queue())
}

func TestSubmitAlreadyQueuedOnOtherQueue(t *testing.T) {
	e := newEnv(t)
	q1 := e.queue(t, "q1")
	q2 := e.queue(t, "q2")
	release := blocker(t, q1)
	defer release()

	w := NewWork(func(*Work) {})
	_, err := q1.Submit(w)
	require.NoError(t, err)

	status, err := q2.Submit(w)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyQueued, status)
	assert.Equal(t, 0, q2.Stats().Pending)
	assert.Equal(t, q1, w.Queue())
}

func TestFIFOOrder(t *testing.T) {
	e := newEnv(t)
	q := e.queue(t, "fifo")
	release := blocker(t, q)

	const n = 50
	var (
		mu    sync.Mutex
		order []int
	)
	items := make([]*Work, n)
	for i := range items {
		i := i
		items[i] = NewWork(func(*Work) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
		_, err := q.Submit(items[i])
		require.NoError(t, err)
	}
	release()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == n
	})
	for i := range order {
		assert.Equal(t, i, order[i])
	}
}

func TestSubmitBeforeStart(t *testing.T) {
	e := newEnv(t)
	q := New(e.threads, e.clock, WithName("cold"))

	w := NewWork(func(*Work) {})
	_, err := q.Submit(w)
	assert.ErrorIs(t, err, errno.ENODEV)
	assert.Nil(t, w.Queue())

	d := NewDelayedWork(func(*Work) {})
	assert.ErrorIs(t, q.SubmitDelayed(d, clock.Millis(10)), errno.ENODEV)
	assert.Nil(t, d.Queue())
}

func TestStartTwiceIsFatal(t *testing.T) {
	var got *fatal.Error
	restore := fatal.SetHaltFunc(func(e *fatal.Error) { got = e })
	defer restore()

	e := newEnv(t)
	q := e.queue(t, "twice")
	q.Start(StartConfig{StackSize: 1024})
	require.NotNil(t, got)
	assert.Equal(t, "workq", got.Module)
}

func TestStartThreadFailureIsFatal(t *testing.T) {
	var got *fatal.Error
	restore := fatal.SetHaltFunc(func(e *fatal.Error) { got = e })
	defer restore()

	e := newEnv(t)
	q := New(e.threads, e.clock, WithName("tiny"))
	q.Start(StartConfig{StackSize: 8})
	require.NotNil(t, got)
	assert.ErrorIs(t, got, errno.EINVAL)
	assert.False(t, q.Stats().Started)
}

func TestRequeueWhileRunning(t *testing.T) {
	e := newEnv(t)
	q := e.queue(t, "requeue")

	var (
		runs   atomic.Int32
		status = make(chan Status, 1)
	)
	var w *Work
	w = NewWork(func(*Work) {
		if runs.Add(1) == 1 {
			assert.Equal(t, FlagRunning, w.Busy())
			s, err := q.Submit(w)
			assert.NoError(t, err)
			status <- s
		}
	})
	_, err := q.Submit(w)
	require.NoError(t, err)

	assert.Equal(t, StatusRequeued, <-status)
	waitFor(t, func() bool { return runs.Load() == 2 && !w.Pending() })
}

func TestSubmitFromInterrupt(t *testing.T) {
	e := newEnv(t)
	q := e.queue(t, "isr")

	ran := make(chan struct{})
	w := NewWork(func(*Work) { close(ran) })
	line, err := e.ctrl.Allocate("uart-rx", func() {
		_, err := q.Submit(w)
		assert.NoError(t, err)
	})
	require.NoError(t, err)
	require.NoError(t, e.ctrl.Trigger(line))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("work submitted from interrupt never ran")
	}
}

func TestDelayedCancelBeforeFire(t *testing.T) {
	e := newEnv(t)
	q := e.queue(t, "delayed")

	var runs atomic.Int32
	d := NewDelayedWork(func(*Work) { runs.Add(1) })
	require.NoError(t, q.SubmitDelayed(d, clock.Millis(100)))
	assert.Equal(t, FlagDelayed, d.Busy())
	assert.Positive(t, d.Remaining())
	assert.False(t, d.Expires().IsZero())

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, d.Cancel())
	assert.Nil(t, d.Queue())
	assert.Zero(t, d.Remaining())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())
	assert.ErrorIs(t, d.Cancel(), errno.EINVAL)
}

func TestDelayedCancelAfterRun(t *testing.T) {
	e := newEnv(t)
	q := e.queue(t, "late")

	var runs atomic.Int32
	d := NewDelayedWork(func(*Work) { runs.Add(1) })
	require.NoError(t, q.SubmitDelayed(d, clock.Millis(10)))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	assert.ErrorIs(t, d.Cancel(), errno.EALREADY)
	assert.ErrorIs(t, d.Cancel(), errno.EINVAL)
}

func TestDelayedCancelWhileQueued(t *testing.T) {
	e := newEnv(t)
	q := e.queue(t, "queued")
	release := blocker(t, q)
	defer release()

	var runs atomic.Int32
	d := NewDelayedWork(func(*Work) { runs.Add(1) })
	require.NoError(t, q.SubmitDelayed(d, clock.Millis(5)))
	waitFor(t, func() bool { return d.Busy() == FlagQueued })

	require.NoError(t, d.Cancel())
	release()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())
}

func TestDelayedOtherQueueInUse(t *testing.T) {
	e := newEnv(t)
	q1 := e.queue(t, "q1")
	q2 := e.queue(t, "q2")

	ranOn := make(chan string, 2)
	d := NewDelayedWork(func(w *Work) { ranOn <- w.Queue().Name() })

	start := time.Now()
	require.NoError(t, q1.SubmitDelayed(d, clock.Millis(100)))
	err := q2.SubmitDelayed(d, clock.Millis(50))
	assert.ErrorIs(t, err, errno.EADDRINUSE)

	select {
	case name := <-ranOn:
		assert.Equal(t, "q1", name)
		assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("delayed work never fired")
	}
	assert.Equal(t, uint64(0), q2.Stats().Processed)
}

func TestDelayedRearmReplacesDeadline(t *testing.T) {
	e := newEnv(t)
	q := e.queue(t, "rearm")

	var runs atomic.Int32
	fired := make(chan time.Time, 2)
	d := NewDelayedWork(func(*Work) {
		runs.Add(1)
		fired <- time.Now()
	})

	start := time.Now()
	require.NoError(t, q.SubmitDelayed(d, clock.Millis(20)))
	require.NoError(t, q.SubmitDelayed(d, clock.Millis(80)))

	at := <-fired
	assert.GreaterOrEqual(t, at.Sub(start), 80*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

// An expiry the clock already popped must not fire a later arming, even
// when it only reaches the queue lock after the item was re-armed.
func TestDelayedRearmIgnoresPoppedExpiry(t *testing.T) {
	e := newEnv(t)
	q := e.queue(t, "stale")

	for i := 0; i < 5; i++ {
		var runs atomic.Int32
		d := NewDelayedWork(func(*Work) { runs.Add(1) })
		require.NoError(t, q.SubmitDelayed(d, clock.Millis(5)))

		key := q.lock.Lock()
		waitFor(t, func() bool { return !e.clock.Active(&d.timer) })
		q.disarm(d)
		require.NoError(t, q.arm(d, clock.After(time.Second)))
		q.lock.Unlock(key)

		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, int32(0), runs.Load())
		assert.Equal(t, FlagDelayed, d.Busy())
		assert.Positive(t, d.Remaining())
		require.NoError(t, d.Cancel())
	}
}

func TestDelayedCancelWhileRunning(t *testing.T) {
	e := newEnv(t)
	q := e.queue(t, "running")

	var runs atomic.Int32
	started := make(chan struct{}, 2)
	gate := make(chan struct{})
	d := NewDelayedWork(func(*Work) {
		runs.Add(1)
		started <- struct{}{}
		<-gate
	})
	require.NoError(t, q.SubmitDelayed(d, clock.NoWait))
	<-started

	// Requeued behind its own running instance.
	require.NoError(t, q.SubmitDelayed(d, clock.NoWait))
	assert.Equal(t, FlagRunning|FlagQueued, d.Busy())

	assert.ErrorIs(t, d.Cancel(), errno.EALREADY)
	assert.Equal(t, FlagRunning, d.Busy())

	close(gate)
	waitFor(t, func() bool { return !d.Pending() })
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestDelayedZeroDelaySubmitsNow(t *testing.T) {
	e := newEnv(t)
	q := e.queue(t, "zero")

	ran := make(chan struct{})
	var d *DelayedWork
	d = NewDelayedWork(func(w *Work) {
		assert.Equal(t, d, w.Delayed())
		close(ran)
	})
	require.NoError(t, q.SubmitDelayed(d, clock.NoWait))
	<-ran
}

func TestDelayedForeverOnlyCancels(t *testing.T) {
	e := newEnv(t)
	q := e.queue(t, "forever")

	d := NewDelayedWork(func(*Work) { t.Error("forever item ran") })
	require.NoError(t, q.SubmitDelayed(d, clock.Forever))
	assert.Equal(t, FlagDelayed, d.Busy())
	assert.Zero(t, d.Remaining())
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, d.Cancel())
}

func TestCancelRaceRunsAtMostOnce(t *testing.T) {
	e := newEnv(t)
	q := e.queue(t, "race")

	const rounds = 100
	var (
		runs     atomic.Int32
		already  int32
		canceled int32
	)
	for i := 0; i < rounds; i++ {
		d := NewDelayedWork(func(*Work) { runs.Add(1) })
		require.NoError(t, q.SubmitDelayed(d, clock.After(time.Duration(i%3)*time.Millisecond+time.Microsecond)))
		time.Sleep(time.Duration(i%4) * 500 * time.Microsecond)

		err := d.Cancel()
		switch {
		case err == nil:
			canceled++
		case errors.Is(err, errno.EALREADY):
			already++
			_, ferr := d.Flush(context.Background())
			require.NoError(t, ferr)
		default:
			t.Fatalf("unexpected cancel result: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := q.Drain(ctx, false)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, int32(rounds), already+canceled)
	assert.Equal(t, already, runs.Load(), "every EALREADY ran exactly once and every cancel never ran")
}

func TestSchedule(t *testing.T) {
	e := newEnv(t)
	q := e.queue(t, "schedule")

	ran := make(chan time.Time, 2)
	d := NewDelayedWork(func(*Work) { ran <- time.Now() })

	start := time.Now()
	ok, err := q.Schedule(d, clock.Millis(30))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Schedule(d, clock.Millis(200))
	require.NoError(t, err)
	assert.False(t, ok, "already scheduled items keep their deadline")

	at := <-ran
	assert.Less(t, at.Sub(start), 150*time.Millisecond)
}

func TestFlush(t *testing.T) {
	e := newEnv(t)
	q := e.queue(t, "flush")

	var done atomic.Bool
	w := NewWork(func(*Work) {
		time.Sleep(30 * time.Millisecond)
		done.Store(true)
	})
	_, err := q.Submit(w)
	require.NoError(t, err)

	waited, err := w.Flush(context.Background())
	require.NoError(t, err)
	assert.True(t, waited)
	assert.True(t, done.Load())

	waited, err = w.Flush(context.Background())
	require.NoError(t, err)
	assert.False(t, waited)
}

func TestDelayedFlushFiresNow(t *testing.T) {
	e := newEnv(t)
	q := e.queue(t, "dflush")

	var runs atomic.Int32
	d := NewDelayedWork(func(*Work) { runs.Add(1) })
	require.NoError(t, q.SubmitDelayed(d, clock.After(time.Hour)))

	waited, err := d.Flush(context.Background())
	require.NoError(t, err)
	assert.True(t, waited)
	assert.Equal(t, int32(1), runs.Load())
}

func TestCancelSync(t *testing.T) {
	e := newEnv(t)
	q := e.queue(t, "csync")

	started := make(chan struct{})
	var finished atomic.Bool
	w := NewWork(func(*Work) {
		close(started)
		time.Sleep(60 * time.Millisecond)
		finished.Store(true)
	})
	_, err := q.Submit(w)
	require.NoError(t, err)
	<-started

	_, err = q.Submit(w)
	require.NoError(t, err)
	waitFor(t, func() bool { return w.Busy()&FlagQueued != 0 })

	checked := make(chan struct{})
	go func() {
		defer close(checked)
		if assert.Eventually(t, func() bool { return w.Busy()&FlagCanceling != 0 }, time.Second, time.Millisecond) {
			_, err := q.Submit(w)
			assert.ErrorIs(t, err, errno.EBUSY)
		}
	}()

	pending, err := w.CancelSync(context.Background())
	<-checked
	require.NoError(t, err)
	assert.True(t, pending)
	assert.True(t, finished.Load())
	assert.Equal(t, Flags(0), w.Busy())
	assert.Nil(t, w.Queue())
}

func TestWorkCancel(t *testing.T) {
	e := newEnv(t)
	q := e.queue(t, "cancel")
	release := blocker(t, q)
	defer release()

	w := NewWork(func(*Work) { t.Error("cancelled work ran") })
	_, err := q.Submit(w)
	require.NoError(t, err)
	assert.Equal(t, Flags(0), w.Cancel())
	assert.Equal(t, 0, q.Stats().Pending)
}

func TestDrainAndPlug(t *testing.T) {
	e := newEnv(t)
	q := e.queue(t, "drain")
	release := blocker(t, q)

	var runs atomic.Int32
	for i := 0; i < 3; i++ {
		_, err := q.Submit(NewWork(func(*Work) { runs.Add(1) }))
		require.NoError(t, err)
	}

	drained := make(chan bool)
	go func() {
		waited, err := q.Drain(context.Background(), true)
		assert.NoError(t, err)
		drained <- waited
	}()
	waitFor(t, func() bool { return q.Stats().Plugged })

	_, err := q.Submit(NewWork(func(*Work) {}))
	assert.ErrorIs(t, err, errno.EBUSY)

	release()
	assert.True(t, <-drained)
	assert.Equal(t, int32(3), runs.Load())

	_, err = q.Submit(NewWork(func(*Work) {}))
	assert.ErrorIs(t, err, errno.EBUSY, "plugged after drain")

	require.NoError(t, q.Unplug())
	assert.ErrorIs(t, q.Unplug(), errno.EALREADY)

	_, err = q.Submit(NewWork(func(*Work) {}))
	assert.NoError(t, err)

	waited, err := q.Drain(context.Background(), false)
	require.NoError(t, err)
	_ = waited
}

func TestHandlerPanicIsFatal(t *testing.T) {
	errs := make(chan *fatal.Error, 1)
	restore := fatal.SetHaltFunc(func(e *fatal.Error) { errs <- e })
	defer restore()

	e := newEnv(t)
	q := e.queue(t, "crashy")
	_, err := q.Submit(NewWork(func(*Work) { panic("bad handler") }))
	require.NoError(t, err)

	select {
	case fe := <-errs:
		assert.Equal(t, "workq:crashy", fe.Module)
	case <-time.After(time.Second):
		t.Fatal("handler panic not reported")
	}
}

func TestStop(t *testing.T) {
	e := newEnv(t)
	q := e.queue(t, "stop")
	require.NotNil(t, q.Thread())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Stop(ctx))

	_, err := q.Submit(NewWork(func(*Work) {}))
	assert.ErrorIs(t, err, errno.ENODEV)
	assert.Equal(t, thread.StateDead, q.Thread().State())
}

func TestMetricsRecorded(t *testing.T) {
	e := newEnv(t)
	m := monitoring.NewMetrics(prometheus.NewRegistry())
	defer m.Close()
	q := e.queue(t, "metered", WithMetrics(m))

	w := NewWork(func(*Work) {})
	_, err := q.Submit(w)
	require.NoError(t, err)
	_, err = w.Flush(context.Background())
	require.NoError(t, err)

	waitFor(t, func() bool { return testutil.ToFloat64(m.WorkExecuted.WithLabelValues("metered")) == 1 })
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkSubmitted.WithLabelValues("metered", "queued")))
}

func TestFlagsString(t *testing.T) {
	assert.Equal(t, "idle", Flags(0).String())
	assert.Equal(t, "running|queued", (FlagRunning | FlagQueued).String())
	assert.Equal(t, "requeued", StatusRequeued.String())
}
