package pipe

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/kcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/kcore/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/kcore/internal/kernel/clock"
	"github.com/GriffinCanCode/kcore/internal/kernel/errno"
	"github.com/GriffinCanCode/kcore/internal/kernel/spinlock"
	"github.com/GriffinCanCode/kcore/internal/kernel/waitq"
	"github.com/GriffinCanCode/kcore/internal/shared/id"
	"go.uber.org/zap"
)

// MaxAllocSize bounds buffers allocated by NewAlloc.
const MaxAllocSize = 16 << 20

// Pipe is a bounded byte channel.
type Pipe struct {
	id   id.PipeID
	name string

	lock      spinlock.Spinlock
	ring      ring
	readers   waitq.Queue
	writers   waitq.Queue
	allocated bool

	logger  *zap.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
}

// request describes a pended transfer. n is updated by the peer that
// services it, under the pipe lock.
type request struct {
	data []byte
	n    int
	min  int
}

func (r *request) satisfied() bool {
	return r.n == len(r.data) || (r.min > 0 && r.n >= r.min)
}

// Stats is a snapshot of a pipe.
type Stats struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Size      int    `json:"size"`
	Used      int    `json:"used"`
	Readers   int    `json:"readers"`
	Writers   int    `json:"writers"`
	Allocated bool   `json:"allocated"`
}

// New creates a pipe over buf, which it borrows. A nil or empty buf makes
// an unbuffered pipe.
func New(buf []byte, opts ...Option) *Pipe {
	p := &Pipe{id: id.NewPipeID(), logger: zap.NewNop()}
	p.name = p.id.String()
	for _, opt := range opts {
		opt(p)
	}
	p.ring.reset(buf)
	return p
}

// NewAlloc creates a pipe with a size-byte buffer owned by the pipe until
// Cleanup. It returns EINVAL for a negative size and ENOMEM above
// MaxAllocSize.
func NewAlloc(size int, opts ...Option) (*Pipe, error) {
	switch {
	case size < 0:
		return nil, fmt.Errorf("alloc pipe of %d bytes: %w", size, errno.EINVAL)
	case size > MaxAllocSize:
		return nil, fmt.Errorf("alloc pipe of %d bytes: %w", size, errno.ENOMEM)
	}
	p := New(make([]byte, size), opts...)
	p.allocated = true
	return p, nil
}

// Init re-initializes the pipe over buf. It must not be called while
// threads are waiting on the pipe.
func (p *Pipe) Init(buf []byte) {
	key := p.lock.Lock()
	p.ring.reset(buf)
	p.allocated = false
	p.lock.Unlock(key)
}

// ID returns the pipe ID.
func (p *Pipe) ID() id.PipeID { return p.id }

// Name returns the pipe name.
func (p *Pipe) Name() string { return p.name }

// Capacity returns the ring buffer size.
func (p *Pipe) Capacity() int {
	key := p.lock.Lock()
	defer p.lock.Unlock(key)
	return len(p.ring.buf)
}

// Put writes data with a NoWait-safe, bounded or unbounded wait.
func (p *Pipe) Put(data []byte, minXfer int, t clock.Timeout) (int, error) {
	return p.PutContext(context.Background(), data, minXfer, t)
}

// Get reads into buf with a NoWait-safe, bounded or unbounded wait.
func (p *Pipe) Get(buf []byte, minXfer int, t clock.Timeout) (int, error) {
	return p.GetContext(context.Background(), buf, minXfer, t)
}

// PutContext writes data to the pipe. It copies to waiting readers first,
// then into the ring, and waits with the rest until at least minXfer bytes
// moved (all of data when minXfer is 0) or t elapses. Interrupt handlers
// must pass NoWait.
func (p *Pipe) PutContext(ctx context.Context, data []byte, minXfer int, t clock.Timeout) (int, error) {
	if minXfer < 0 || minXfer > len(data) {
		err := fmt.Errorf("pipe %s put: min %d of %d: %w", p.name, minXfer, len(data), errno.EINVAL)
		p.report("put", 0, err)
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}

	req := &request{data: data, min: minXfer}
	key := p.lock.Lock()

	if t.IsNoWait() && p.ring.free()+p.readerNeed() < minXfer {
		p.lock.Unlock(key)
		err := fmt.Errorf("pipe %s put: %w", p.name, errno.EIO)
		p.report("put", 0, err)
		return 0, err
	}

	p.feedReaders(req)
	req.n += p.ring.write(data[req.n:])

	if req.n == len(data) || t.IsNoWait() || (minXfer > 0 && req.n >= minXfer) {
		used := p.ring.used
		p.lock.Unlock(key)
		return p.finish("put", req, used)
	}

	_, err := p.writers.Pend(ctx, &p.lock, key, t, req)
	if err != nil && ctx.Err() != nil {
		p.report("put", req.n, err)
		return req.n, fmt.Errorf("pipe %s put: %w", p.name, err)
	}
	return p.finish("put", req, p.ReadAvail())
}

// GetContext reads from the pipe. It drains the ring, then copies from
// waiting writers, refills the ring from them, and waits for the rest until
// at least minXfer bytes moved (all of buf when minXfer is 0) or t
// elapses. Interrupt handlers must pass NoWait.
func (p *Pipe) GetContext(ctx context.Context, buf []byte, minXfer int, t clock.Timeout) (int, error) {
	if minXfer < 0 || minXfer > len(buf) {
		err := fmt.Errorf("pipe %s get: min %d of %d: %w", p.name, minXfer, len(buf), errno.EINVAL)
		p.report("get", 0, err)
		return 0, err
	}
	if len(buf) == 0 {
		return 0, nil
	}

	req := &request{data: buf, min: minXfer}
	key := p.lock.Lock()

	if t.IsNoWait() && p.ring.used+p.writerSupply() < minXfer {
		p.lock.Unlock(key)
		err := fmt.Errorf("pipe %s get: %w", p.name, errno.EIO)
		p.report("get", 0, err)
		return 0, err
	}

	req.n += p.ring.read(buf)
	p.drainWriters(req)
	p.refill()

	if req.n == len(buf) || t.IsNoWait() || (minXfer > 0 && req.n >= minXfer) {
		used := p.ring.used
		p.lock.Unlock(key)
		return p.finish("get", req, used)
	}

	_, err := p.readers.Pend(ctx, &p.lock, key, t, req)
	if err != nil && ctx.Err() != nil {
		p.report("get", req.n, err)
		return req.n, fmt.Errorf("pipe %s get: %w", p.name, err)
	}
	return p.finish("get", req, p.ReadAvail())
}

// finish applies the return code rule: success once the minimum moved,
// EAGAIN otherwise.
func (p *Pipe) finish(op string, req *request, used int) (int, error) {
	var err error
	if req.n < req.min {
		err = fmt.Errorf("pipe %s %s: moved %d of min %d: %w", p.name, op, req.n, req.min, errno.EAGAIN)
	}
	p.metrics.SetPipeUsed(p.name, used)
	p.report(op, req.n, err)
	return req.n, err
}

// readerNeed is the room left in waiting readers' buffers.
func (p *Pipe) readerNeed() int {
	n := 0
	p.readers.Walk(func(w *waitq.Waiter) bool {
		r := w.Data.(*request)
		n += len(r.data) - r.n
		return true
	})
	return n
}

// writerSupply is the data left in waiting writers' buffers.
func (p *Pipe) writerSupply() int {
	n := 0
	p.writers.Walk(func(w *waitq.Waiter) bool {
		r := w.Data.(*request)
		n += len(r.data) - r.n
		return true
	})
	return n
}

// feedReaders copies src straight into waiting readers in arrival order.
func (p *Pipe) feedReaders(src *request) {
	p.readers.Walk(func(w *waitq.Waiter) bool {
		r := w.Data.(*request)
		k := copy(r.data[r.n:], src.data[src.n:])
		r.n += k
		src.n += k
		if r.satisfied() {
			p.readers.Wake(w, nil)
		}
		return src.n < len(src.data)
	})
}

// drainWriters copies from waiting writers straight into dst.
func (p *Pipe) drainWriters(dst *request) {
	if dst.n == len(dst.data) {
		return
	}
	p.writers.Walk(func(w *waitq.Waiter) bool {
		wr := w.Data.(*request)
		k := copy(dst.data[dst.n:], wr.data[wr.n:])
		wr.n += k
		dst.n += k
		if wr.satisfied() {
			p.writers.Wake(w, nil)
		}
		return dst.n < len(dst.data)
	})
}

// refill moves waiting writers' data into free ring space.
func (p *Pipe) refill() {
	p.writers.Walk(func(w *waitq.Waiter) bool {
		if p.ring.free() == 0 {
			return false
		}
		wr := w.Data.(*request)
		wr.n += p.ring.write(wr.data[wr.n:])
		if wr.satisfied() {
			p.writers.Wake(w, nil)
		}
		return true
	})
}

// ReadAvail returns the bytes buffered in the ring.
func (p *Pipe) ReadAvail() int {
	key := p.lock.Lock()
	defer p.lock.Unlock(key)
	return p.ring.used
}

// WriteAvail returns the free space in the ring.
func (p *Pipe) WriteAvail() int {
	key := p.lock.Lock()
	defer p.lock.Unlock(key)
	return p.ring.free()
}

// Flush discards the ring and the data of every waiting writer. Waiting
// writers are released as if their data had been read.
func (p *Pipe) Flush() int {
	key := p.lock.Lock()
	n := p.ring.discard()
	for w := p.writers.First(); w != nil; w = p.writers.First() {
		wr := w.Data.(*request)
		n += len(wr.data) - wr.n
		wr.n = len(wr.data)
		p.writers.Wake(w, nil)
	}
	p.lock.Unlock(key)

	p.metrics.SetPipeUsed(p.name, 0)
	p.tracer.Event("pipe.flush", p.name, nil, "bytes", fmt.Sprint(n))
	return n
}

// BufferFlush discards the ring only, then refills it from waiting writers.
func (p *Pipe) BufferFlush() int {
	key := p.lock.Lock()
	n := p.ring.discard()
	p.refill()
	used := p.ring.used
	p.lock.Unlock(key)

	p.metrics.SetPipeUsed(p.name, used)
	p.tracer.Event("pipe.buffer_flush", p.name, nil, "bytes", fmt.Sprint(n))
	return n
}

// Cleanup releases a buffer allocated by NewAlloc. It returns EAGAIN while
// threads are waiting on the pipe; a borrowed buffer is left alone.
func (p *Pipe) Cleanup() error {
	key := p.lock.Lock()
	defer p.lock.Unlock(key)
	if !p.readers.Empty() || !p.writers.Empty() {
		return fmt.Errorf("pipe %s cleanup: %w", p.name, errno.EAGAIN)
	}
	if p.allocated {
		p.ring.reset(nil)
		p.allocated = false
	}
	return nil
}

// Stats returns a snapshot of the pipe.
func (p *Pipe) Stats() Stats {
	key := p.lock.Lock()
	defer p.lock.Unlock(key)
	return Stats{
		ID:        p.id.String(),
		Name:      p.name,
		Size:      len(p.ring.buf),
		Used:      p.ring.used,
		Readers:   p.readers.Len(),
		Writers:   p.writers.Len(),
		Allocated: p.allocated,
	}
}

func (p *Pipe) report(op string, n int, err error) {
	result := "ok"
	if err != nil {
		result = errno.Name(err)
		p.logger.Debug("pipe transfer short", zap.String("pipe", p.name), zap.String("op", op), zap.Int("bytes", n), zap.Error(err))
	}
	p.metrics.RecordPipeOp(p.name, op, result, n)
	p.tracer.Event("pipe."+op, p.name, err, "bytes", fmt.Sprint(n))
}
