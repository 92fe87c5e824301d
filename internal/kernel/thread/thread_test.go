package thread

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GriffinCanCode/kcore/internal/kernel/clock"
	"github.com/GriffinCanCode/kcore/internal/kernel/errno"
	"github.com/GriffinCanCode/kcore/internal/kernel/fatal"
	"github.com/GriffinCanCode/kcore/internal/kernel/irq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, limits Limits) *Manager {
	t.Helper()
	ctrl := irq.New(nil)
	clk := clock.New(clock.Options{Name: "thread-test", IRQ: ctrl})
	t.Cleanup(func() {
		clk.Close()
		ctrl.Close()
	})
	return NewManager(clk, limits)
}

func TestCreateRunsEntry(t *testing.T) {
	m := newManager(t, DefaultLimits())
	ran := make(chan struct{})

	th, err := m.Create(Spec{Name: "worker", StackSize: 1024, Priority: 5}, func(ctx context.Context) {
		close(ran)
	})
	require.NoError(t, err)
	assert.Equal(t, "worker", th.Name())
	assert.Equal(t, 5, th.Priority())
	assert.Contains(t, th.ID().String(), "thr_")

	<-ran
	require.NoError(t, th.Join(context.Background()))
	assert.Equal(t, StateDead, th.State())
	assert.Equal(t, 0, m.Count())
}

func TestCreateErrors(t *testing.T) {
	tests := []struct {
		name   string
		limits Limits
		spec   Spec
		entry  Entry
		want   error
	}{
		{"nil entry", DefaultLimits(), Spec{StackSize: 1024}, nil, errno.EINVAL},
		{"small stack", DefaultLimits(), Spec{StackSize: 16}, func(context.Context) {}, errno.EINVAL},
		{"unlimited", Limits{MaxThreads: 0, MinStackSize: 0}, Spec{}, func(context.Context) {}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, tt.limits)
			_, err := m.Create(tt.spec, tt.entry)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestThreadLimit(t *testing.T) {
	m := newManager(t, Limits{MaxThreads: 1})
	block := func(ctx context.Context) { <-ctx.Done() }

	th, err := m.Create(Spec{Name: "a"}, block)
	require.NoError(t, err)

	_, err = m.Create(Spec{Name: "b"}, block)
	assert.ErrorIs(t, err, errno.ENOMEM)

	th.Abort()
	require.NoError(t, th.Join(context.Background()))

	_, err = m.Create(Spec{Name: "c"}, block)
	assert.NoError(t, err)
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestDelayedStart(t *testing.T) {
	m := newManager(t, DefaultLimits())
	started := make(chan time.Time, 1)
	begin := time.Now()

	th, err := m.Create(Spec{Name: "late", Delay: clock.After(30 * time.Millisecond), StackSize: 1024}, func(context.Context) {
		started <- time.Now()
	})
	require.NoError(t, err)
	assert.Equal(t, StateCreated, th.State())

	select {
	case at := <-started:
		assert.GreaterOrEqual(t, at.Sub(begin), 30*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("delayed thread never started")
	}
}

func TestForeverDelayAndAbortBeforeStart(t *testing.T) {
	m := newManager(t, DefaultLimits())
	var ran atomic.Bool

	th, err := m.Create(Spec{Name: "parked", Delay: clock.Forever, StackSize: 1024}, func(context.Context) { ran.Store(true) })
	require.NoError(t, err)
	assert.Equal(t, 1, m.Count())

	th.Abort()
	require.NoError(t, th.Join(context.Background()))
	th.Start()
	time.Sleep(10 * time.Millisecond)
	assert.False(t, ran.Load())
	assert.Equal(t, 0, m.Count())
}

func TestExplicitStart(t *testing.T) {
	m := newManager(t, DefaultLimits())
	ran := make(chan struct{})
	th, err := m.Create(Spec{Name: "manual", Delay: clock.Forever, StackSize: 1024}, func(context.Context) { close(ran) })
	require.NoError(t, err)
	th.Start()
	<-ran
	require.NoError(t, th.Join(context.Background()))
}

func TestEssentialExitIsFatal(t *testing.T) {
	errs := make(chan *fatal.Error, 1)
	restore := fatal.SetHaltFunc(func(e *fatal.Error) { errs <- e })
	defer restore()

	m := newManager(t, DefaultLimits())
	_, err := m.Create(Spec{Name: "sysworkq", Options: Essential, StackSize: 1024}, func(context.Context) {})
	require.NoError(t, err)

	select {
	case e := <-errs:
		assert.Equal(t, fatal.ReasonEssential, e.Reason)
		assert.Equal(t, "thread:sysworkq", e.Module)
	case <-time.After(time.Second):
		t.Fatal("essential exit not reported")
	}
}

func TestEssentialAbortIsClean(t *testing.T) {
	var called atomic.Bool
	restore := fatal.SetHaltFunc(func(*fatal.Error) { called.Store(true) })
	defer restore()

	m := newManager(t, DefaultLimits())
	th, err := m.Create(Spec{Name: "svc", Options: Essential, StackSize: 1024}, func(ctx context.Context) { <-ctx.Done() })
	require.NoError(t, err)
	th.Abort()
	require.NoError(t, th.Join(context.Background()))
	assert.False(t, called.Load())
}

func TestCrashingThread(t *testing.T) {
	var called atomic.Bool
	restore := fatal.SetHaltFunc(func(*fatal.Error) { called.Store(true) })
	defer restore()

	m := newManager(t, DefaultLimits())
	th, err := m.Create(Spec{Name: "app", StackSize: 1024}, func(context.Context) { panic("oops") })
	require.NoError(t, err)
	require.NoError(t, th.Join(context.Background()))
	assert.False(t, called.Load(), "non-essential crash must not halt")
}

func TestForeachPriorityOrder(t *testing.T) {
	m := newManager(t, DefaultLimits())
	block := func(ctx context.Context) { <-ctx.Done() }
	for _, p := range []int{7, -1, 3} {
		_, err := m.Create(Spec{Priority: p, StackSize: 1024}, block)
		require.NoError(t, err)
	}

	var got []int
	m.Foreach(func(th *Thread) { got = append(got, th.Priority()) })
	assert.Equal(t, []int{-1, 3, 7}, got)
	assert.Len(t, m.Snapshot(), 3)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	assert.Equal(t, 0, m.Count())
}
