// Package thread implements kernel thread creation and lifecycle.
//
// Threads are goroutines with a name, a priority tag and a nominal stack
// size. Go schedules them itself, so priority is informational: it is
// recorded, reported and used for ordering snapshots, but it does not
// preempt. The stack size is validated against the configured minimum so
// configuration errors surface the same way they would on a target.
package thread

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/kcore/internal/kernel/clock"
	"github.com/GriffinCanCode/kcore/internal/kernel/errno"
	"github.com/GriffinCanCode/kcore/internal/kernel/fatal"
	"github.com/GriffinCanCode/kcore/internal/shared/id"
	"go.uber.org/zap"
)

// State is a thread's lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateDead
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Options are thread creation flags.
type Options uint32

const (
	// Essential threads must never exit on their own; doing so is fatal.
	Essential Options = 1 << iota
)

// Entry is a thread body. ctx is cancelled when the thread is aborted.
type Entry func(ctx context.Context)

// Spec describes a thread to create.
type Spec struct {
	Name      string
	StackSize int
	Priority  int
	Options   Options
	// Delay before the thread starts. The zero value starts it at once;
	// Forever leaves it created until Start is called.
	Delay clock.Timeout
}

// Limits bound thread creation.
type Limits struct {
	MaxThreads   int
	MinStackSize int
}

// DefaultLimits returns limits suitable for tests and small systems.
func DefaultLimits() Limits {
	return Limits{MaxThreads: 256, MinStackSize: 512}
}

// Manager creates and tracks threads.
type Manager struct {
	mu      sync.RWMutex
	threads map[id.ThreadID]*Thread
	limits  Limits
	clock   *clock.Clock
	logger  *zap.Logger
	onCount func(int)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithCountHook is called with the live thread count after every change.
func WithCountHook(fn func(int)) ManagerOption {
	return func(m *Manager) { m.onCount = fn }
}

// NewManager creates a thread manager. clk is used for delayed starts.
func NewManager(clk *clock.Clock, limits Limits, opts ...ManagerOption) *Manager {
	m := &Manager{
		threads: make(map[id.ThreadID]*Thread),
		limits:  limits,
		clock:   clk,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Thread is a kernel thread.
type Thread struct {
	id        id.ThreadID
	name      string
	priority  int
	stackSize int
	options   Options
	created   time.Time

	state   atomic.Int32
	aborted atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	start   sync.Once
	finish  sync.Once
	timer   clock.Record

	entry Entry
	mgr   *Manager
}

// Info is a snapshot of a thread.
type Info struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Priority  int           `json:"priority"`
	StackSize int           `json:"stack_size"`
	State     string        `json:"state"`
	Essential bool          `json:"essential"`
	Age       time.Duration `json:"age"`
}

// Create creates a thread running entry. It fails with EINVAL for a nil
// entry or a stack below the minimum, and with ENOMEM when the thread limit
// is reached.
func (m *Manager) Create(spec Spec, entry Entry) (*Thread, error) {
	if entry == nil {
		return nil, fmt.Errorf("create thread %q: nil entry: %w", spec.Name, errno.EINVAL)
	}
	if spec.StackSize < m.limits.MinStackSize {
		return nil, fmt.Errorf("create thread %q: stack %d below minimum %d: %w",
			spec.Name, spec.StackSize, m.limits.MinStackSize, errno.EINVAL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Thread{
		id:        id.NewThreadID(),
		name:      spec.Name,
		priority:  spec.Priority,
		stackSize: spec.StackSize,
		options:   spec.Options,
		created:   time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		entry:     entry,
		mgr:       m,
	}
	if t.name == "" {
		t.name = t.id.String()
	}

	m.mu.Lock()
	if m.limits.MaxThreads > 0 && len(m.threads) >= m.limits.MaxThreads {
		m.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("create thread %q: limit %d reached: %w", spec.Name, m.limits.MaxThreads, errno.ENOMEM)
	}
	m.threads[t.id] = t
	n := len(m.threads)
	m.mu.Unlock()
	m.counted(n)

	m.logger.Debug("thread created",
		zap.String("thread_id", t.id.String()),
		zap.String("name", t.name),
		zap.Int("priority", t.priority),
		zap.String("delay", spec.Delay.String()),
	)

	switch {
	case spec.Delay.IsForever():
	case spec.Delay.Duration() <= 0:
		t.Start()
	default:
		if m.clock == nil {
			t.Start()
			break
		}
		if err := m.clock.Add(&t.timer, t.Start, spec.Delay); err != nil {
			t.Abort()
			return nil, fmt.Errorf("create thread %q: arm start: %w", spec.Name, err)
		}
	}
	return t, nil
}

// Get returns a live thread by ID.
func (m *Manager) Get(tid id.ThreadID) (*Thread, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[tid]
	return t, ok
}

// Count returns the number of live threads.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.threads)
}

// Foreach calls fn for every live thread, highest priority first. Lower
// numbers are higher priority.
func (m *Manager) Foreach(fn func(*Thread)) {
	m.mu.RLock()
	list := make([]*Thread, 0, len(m.threads))
	for _, t := range m.threads {
		list = append(list, t)
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].priority == list[j].priority {
			return list[i].id < list[j].id
		}
		return list[i].priority < list[j].priority
	})
	for _, t := range list {
		fn(t)
	}
}

// Snapshot returns info for every live thread.
func (m *Manager) Snapshot() []Info {
	var out []Info
	m.Foreach(func(t *Thread) { out = append(out, t.Info()) })
	return out
}

// Shutdown aborts every thread and waits for them to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	var list []*Thread
	m.Foreach(func(t *Thread) { list = append(list, t) })
	for _, t := range list {
		t.Abort()
	}
	for _, t := range list {
		if err := t.Join(ctx); err != nil {
			return fmt.Errorf("shutdown: join %s: %w", t.name, err)
		}
	}
	return nil
}

func (m *Manager) remove(t *Thread) {
	m.mu.Lock()
	delete(m.threads, t.id)
	n := len(m.threads)
	m.mu.Unlock()
	m.counted(n)
}

func (m *Manager) counted(n int) {
	if m.onCount != nil {
		m.onCount(n)
	}
}

// ID returns the thread ID.
func (t *Thread) ID() id.ThreadID { return t.id }

// Name returns the thread name.
func (t *Thread) Name() string { return t.name }

// Priority returns the thread priority.
func (t *Thread) Priority() int { return t.priority }

// State returns the lifecycle state.
func (t *Thread) State() State { return State(t.state.Load()) }

// Essential reports whether the thread was created Essential.
func (t *Thread) Essential() bool { return t.options&Essential != 0 }

// Done is closed when the thread has exited.
func (t *Thread) Done() <-chan struct{} { return t.done }

// Info returns a snapshot of the thread.
func (t *Thread) Info() Info {
	return Info{
		ID:        t.id.String(),
		Name:      t.name,
		Priority:  t.priority,
		StackSize: t.stackSize,
		State:     t.State().String(),
		Essential: t.Essential(),
		Age:       time.Since(t.created),
	}
}

// Start starts a thread created with a Forever delay. It is safe to call
// from interrupt context and has no effect on a started or aborted thread.
func (t *Thread) Start() {
	t.start.Do(func() {
		if t.aborted.Load() {
			t.exit()
			return
		}
		t.state.Store(int32(StateRunning))
		go t.run()
	})
}

// Abort cancels the thread's context. A thread that has not started yet
// exits without running.
func (t *Thread) Abort() {
	t.aborted.Store(true)
	t.cancel()
	if t.mgr.clock != nil {
		_ = t.mgr.clock.Abort(&t.timer)
	}
	started := true
	t.start.Do(func() { started = false })
	if !started {
		t.exit()
	}
}

// Join waits for the thread to exit or ctx to end.
func (t *Thread) Join(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Thread) run() {
	defer t.exit()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		t.mgr.logger.Error("thread crashed",
			zap.String("thread_id", t.id.String()),
			zap.String("name", t.name),
			zap.Any("panic", r),
		)
		if t.Essential() {
			fatal.Panic(&fatal.Error{
				Module:  "thread:" + t.name,
				Reason:  fatal.ReasonOops,
				Message: fmt.Sprintf("essential thread crashed: %v", r),
			})
		}
	}()

	t.entry(t.ctx)

	if t.Essential() && !t.aborted.Load() {
		fatal.Panic(&fatal.Error{
			Module:  "thread:" + t.name,
			Reason:  fatal.ReasonEssential,
			Message: "essential thread exited",
		})
	}
}

func (t *Thread) exit() {
	t.finish.Do(func() {
		t.state.Store(int32(StateDead))
		t.cancel()
		t.mgr.remove(t)
		close(t.done)
		t.mgr.logger.Debug("thread exited",
			zap.String("thread_id", t.id.String()),
			zap.String("name", t.name),
		)
	})
}
