package pipe

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GriffinCanCode/kcore/internal/kernel/clock"
	"github.com/GriffinCanCode/kcore/internal/kernel/errno"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func waitStats(t *testing.T, p *Pipe, cond func(Stats) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(p.Stats()) }, time.Second, time.Millisecond)
}

func TestPutGetBuffered(t *testing.T) {
	p := New(make([]byte, 8), WithName("console"))

	n, err := p.Put([]byte("abc"), 3, clock.NoWait)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, p.ReadAvail())
	assert.Equal(t, 5, p.WriteAvail())

	buf := make([]byte, 8)
	n, err = p.Get(buf, 1, clock.NoWait)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))
	assert.Equal(t, 0, p.ReadAvail())
}

func TestRingWraps(t *testing.T) {
	p := New(make([]byte, 5))
	out := make([]byte, 0, 64)
	buf := make([]byte, 3)
	for i := 0; i < 10; i++ {
		chunk := []byte{byte('a' + i), byte('A' + i), byte('0' + i)}
		n, err := p.Put(chunk, 3, clock.NoWait)
		require.NoError(t, err)
		require.Equal(t, 3, n)
		n, err = p.Get(buf, 3, clock.NoWait)
		require.NoError(t, err)
		out = append(out, buf[:n]...)
	}
	assert.Equal(t, "aA0bB1cC2dD3eE4fF5gG6hH7iI8jJ9", string(out))
}

func TestInvalidMinXfer(t *testing.T) {
	p := New(make([]byte, 8))
	_, err := p.Put([]byte("ab"), 3, clock.NoWait)
	assert.ErrorIs(t, err, errno.EINVAL)
	_, err = p.Get(make([]byte, 2), 3, clock.NoWait)
	assert.ErrorIs(t, err, errno.EINVAL)
	_, err = p.Put([]byte("ab"), -1, clock.NoWait)
	assert.ErrorIs(t, err, errno.EINVAL)

	n, err := p.Put(nil, 0, clock.Forever)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestNoWaitReturnCodes(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		fill    string
		op      string
		len     int
		min     int
		wantN   int
		wantErr error
	}{
		{"put fits", 8, "", "put", 6, 6, 6, nil},
		{"put partial ok", 8, "abcdef", "put", 4, 2, 2, nil},
		{"put below min", 8, "abcdef", "put", 4, 3, 0, errno.EIO},
		{"put min zero moves what fits", 8, "abcdef", "put", 4, 0, 2, nil},
		{"get partial ok", 8, "ab", "get", 4, 1, 2, nil},
		{"get below min", 8, "ab", "get", 4, 3, 0, errno.EIO},
		{"get empty min zero", 8, "", "get", 4, 0, 0, nil},
		{"unbuffered put", 0, "", "put", 4, 1, 0, errno.EIO},
		{"unbuffered get", 0, "", "get", 4, 1, 0, errno.EIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(make([]byte, tt.size))
			if tt.fill != "" {
				_, err := p.Put([]byte(tt.fill), len(tt.fill), clock.NoWait)
				require.NoError(t, err)
			}
			before := p.ReadAvail()

			var (
				n   int
				err error
			)
			if tt.op == "put" {
				n, err = p.Put(bytes.Repeat([]byte("x"), tt.len), tt.min, clock.NoWait)
			} else {
				n, err = p.Get(make([]byte, tt.len), tt.min, clock.NoWait)
			}
			assert.Equal(t, tt.wantN, n)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before, p.ReadAvail(), "failed no-wait call must not move bytes")
			}
		})
	}
}

// A writer with no reader returns once min_xfer bytes are buffered.
func TestPutReturnsAtMinXfer(t *testing.T) {
	p := New(make([]byte, 8))
	n, err := p.Put([]byte("01234567"), 4, clock.Forever)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	p2 := New(make([]byte, 6))
	n, err = p2.Put([]byte("01234567"), 4, clock.Forever)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

// A blocked reader and a writer providing exactly min_xfer bytes complete
// through the direct path with nothing left in the ring.
func TestDirectCopyToWaitingReader(t *testing.T) {
	p := New(make([]byte, 8))
	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 4)
		n, err := p.Get(buf, 4, clock.Forever)
		assert.NoError(t, err)
		got <- buf[:n]
	}()
	waitStats(t, p, func(s Stats) bool { return s.Readers == 1 })

	n, err := p.Put([]byte("ping"), 4, clock.NoWait)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "ping", string(<-got))
	assert.Equal(t, 0, p.ReadAvail())
}

func TestWaitingReaderReleasedAtMin(t *testing.T) {
	p := New(make([]byte, 8))
	type result struct {
		n   int
		err error
	}
	res := make(chan result, 1)
	go func() {
		n, err := p.Get(make([]byte, 8), 2, clock.Forever)
		res <- result{n, err}
	}()
	waitStats(t, p, func(s Stats) bool { return s.Readers == 1 })

	n, err := p.Put([]byte("abc"), 1, clock.NoWait)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, 3, r.n)
}

func TestUnbufferedRendezvous(t *testing.T) {
	p := New(nil)
	var g errgroup.Group
	g.Go(func() error {
		n, err := p.Put([]byte("sync"), 4, clock.Forever)
		if err == nil && n != 4 {
			return errors.New("short put")
		}
		return err
	})
	waitStats(t, p, func(s Stats) bool { return s.Writers == 1 })

	buf := make([]byte, 4)
	n, err := p.Get(buf, 4, clock.NoWait)
	require.NoError(t, err)
	assert.Equal(t, "sync", string(buf[:n]))
	require.NoError(t, g.Wait())
	assert.Equal(t, 0, p.Capacity())
}

func TestGetTimeoutShort(t *testing.T) {
	p := New(make([]byte, 8))
	_, err := p.Put([]byte("ab"), 2, clock.NoWait)
	require.NoError(t, err)

	start := time.Now()
	buf := make([]byte, 8)
	n, err := p.Get(buf, 5, clock.Millis(30))
	assert.ErrorIs(t, err, errno.EAGAIN)
	assert.Equal(t, 2, n, "bytes moved before the timeout are reported")
	assert.Equal(t, "ab", string(buf[:n]))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestPutTimeoutShort(t *testing.T) {
	p := New(make([]byte, 4))
	n, err := p.Put([]byte("abcdef"), 6, clock.Millis(20))
	assert.ErrorIs(t, err, errno.EAGAIN)
	assert.Equal(t, 4, n)
	assert.Equal(t, 0, p.Stats().Writers)

	buf := make([]byte, 8)
	n, err = p.Get(buf, 0, clock.NoWait)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(buf[:n]))
}

func TestMinZeroWaitsForAllUntilTimeout(t *testing.T) {
	p := New(make([]byte, 8))
	_, err := p.Put([]byte("xy"), 2, clock.NoWait)
	require.NoError(t, err)

	n, err := p.Get(make([]byte, 4), 0, clock.Millis(20))
	assert.NoError(t, err, "min 0 is always met")
	assert.Equal(t, 2, n)
}

func TestGetContextCancel(t *testing.T) {
	p := New(make([]byte, 8))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	n, err := p.GetContext(ctx, make([]byte, 4), 1, clock.Forever)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, n)
	assert.Equal(t, 0, p.Stats().Readers)
}

func TestWritersServedInOrder(t *testing.T) {
	p := New(make([]byte, 2))
	_, err := p.Put([]byte("00"), 2, clock.NoWait)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i, s := range []string{"aa", "bb", "cc"} {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := p.Put([]byte(s), 2, clock.Forever)
			assert.NoError(t, err)
			assert.Equal(t, 2, n)
		}()
		want := i + 1
		waitStats(t, p, func(st Stats) bool { return st.Writers == want })
	}

	out := make([]byte, 8)
	n, err := p.Get(out, 8, clock.Millis(200))
	require.NoError(t, err)
	assert.Equal(t, "00aabbcc", string(out[:n]))
	wg.Wait()
}

func TestByteConservation(t *testing.T) {
	p := New(make([]byte, 7))
	const writers, perWriter = 4, 2000

	var (
		written atomic.Int64
		read    atomic.Int64
		sumIn   atomic.Int64
		sumOut  atomic.Int64
		g       errgroup.Group
	)
	for w := 0; w < writers; w++ {
		seed := int64(w)
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			left := perWriter
			for left > 0 {
				size := 1 + rng.Intn(9)
				if size > left {
					size = left
				}
				chunk := make([]byte, size)
				for i := range chunk {
					chunk[i] = byte(rng.Intn(256))
				}
				n, err := p.Put(chunk, 1, clock.Forever)
				if err != nil {
					return err
				}
				for _, b := range chunk[:n] {
					sumIn.Add(int64(b))
				}
				written.Add(int64(n))
				left -= n
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() {
		rng := rand.New(rand.NewSource(99))
		buf := make([]byte, 16)
		for read.Load() < writers*perWriter {
			size := 1 + rng.Intn(len(buf))
			min := rng.Intn(size + 1)
			n, err := p.Get(buf[:size], min, clock.Millis(5))
			if err != nil && !errors.Is(err, errno.EAGAIN) {
				done <- err
				return
			}
			if err == nil && n < min {
				done <- errors.New("success reported below min_xfer")
				return
			}
			if errors.Is(err, errno.EAGAIN) && n >= min {
				done <- errors.New("timeout reported at or above min_xfer")
				return
			}
			for _, b := range buf[:n] {
				sumOut.Add(int64(b))
			}
			read.Add(int64(n))
		}
		done <- nil
	}()

	require.NoError(t, g.Wait())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("reader stalled")
	}
	assert.Equal(t, written.Load(), read.Load())
	assert.Equal(t, sumIn.Load(), sumOut.Load())
}

func TestFlush(t *testing.T) {
	p := New(make([]byte, 4))
	_, err := p.Put([]byte("abcd"), 4, clock.NoWait)
	require.NoError(t, err)

	res := make(chan int, 1)
	go func() {
		n, err := p.Put([]byte("efgh"), 4, clock.Forever)
		assert.NoError(t, err)
		res <- n
	}()
	waitStats(t, p, func(s Stats) bool { return s.Writers == 1 })

	assert.Equal(t, 8, p.Flush())
	assert.Equal(t, 4, <-res)
	assert.Equal(t, 0, p.ReadAvail())
}

func TestBufferFlushRefillsFromWriters(t *testing.T) {
	p := New(make([]byte, 4))
	_, err := p.Put([]byte("abcd"), 4, clock.NoWait)
	require.NoError(t, err)

	res := make(chan int, 1)
	go func() {
		n, err := p.Put([]byte("ef"), 2, clock.Forever)
		assert.NoError(t, err)
		res <- n
	}()
	waitStats(t, p, func(s Stats) bool { return s.Writers == 1 })

	assert.Equal(t, 4, p.BufferFlush())
	assert.Equal(t, 2, <-res)

	buf := make([]byte, 4)
	n, err := p.Get(buf, 0, clock.NoWait)
	require.NoError(t, err)
	assert.Equal(t, "ef", string(buf[:n]))
}

func TestAllocAndCleanup(t *testing.T) {
	_, err := NewAlloc(-1)
	assert.ErrorIs(t, err, errno.EINVAL)
	_, err = NewAlloc(MaxAllocSize + 1)
	assert.ErrorIs(t, err, errno.ENOMEM)

	p, err := NewAlloc(16, WithName("heap"))
	require.NoError(t, err)
	assert.True(t, p.Stats().Allocated)
	assert.Equal(t, 16, p.Capacity())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.Get(make([]byte, 1), 1, clock.Millis(100))
	}()
	waitStats(t, p, func(s Stats) bool { return s.Readers == 1 })
	assert.ErrorIs(t, p.Cleanup(), errno.EAGAIN)
	<-done

	require.NoError(t, p.Cleanup())
	assert.Equal(t, 0, p.Capacity())
	assert.False(t, p.Stats().Allocated)
}

func TestPutFromInterruptNeverBlocks(t *testing.T) {
	p := New(make([]byte, 2))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_, _ = p.Put([]byte("xyz"), 0, clock.NoWait)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("no-wait put blocked")
	}
	assert.Equal(t, 2, p.ReadAvail())
}
