// Package bench measures work queue and pipe latency on a running kernel.
package bench

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/kcore/internal/kernel"
	"github.com/GriffinCanCode/kcore/internal/kernel/clock"
	"github.com/GriffinCanCode/kcore/internal/kernel/workq"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// Config controls a benchmark run.
type Config struct {
	// Items is the number of work items and of pipe chunks.
	Items int
	// Chunk is the pipe transfer size; at least 8 bytes.
	Chunk int
	// PipeSize is the ring size of the benchmark pipe.
	PipeSize int
}

// DefaultConfig returns a short run.
func DefaultConfig() Config {
	return Config{Items: 1000, Chunk: 64, PipeSize: 1024}
}

// Summary describes one latency distribution.
type Summary struct {
	Name   string        `json:"name"`
	Count  int           `json:"count"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stddev"`
	Min    time.Duration `json:"min"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P99    time.Duration `json:"p99"`
	Max    time.Duration `json:"max"`
}

// Report is the result of Run.
type Report struct {
	Work    Summary       `json:"work"`
	Pipe    Summary       `json:"pipe"`
	Elapsed time.Duration `json:"elapsed"`
}

// Run measures submit-to-run latency on the system work queue and
// put-to-get latency through a temporary pipe.
func Run(ctx context.Context, k *kernel.Kernel, cfg Config) (Report, error) {
	if cfg.Items <= 0 || cfg.Chunk < 8 || cfg.PipeSize < 0 {
		return Report{}, fmt.Errorf("bench: invalid config %+v", cfg)
	}
	start := time.Now()

	work, err := workLatency(ctx, k.SysWorkQ(), cfg.Items)
	if err != nil {
		return Report{}, err
	}
	pipeLat, err := pipeLatency(ctx, k, cfg)
	if err != nil {
		return Report{}, err
	}

	return Report{
		Work:    Summarize("workq submit->run", work),
		Pipe:    Summarize("pipe put->get", pipeLat),
		Elapsed: time.Since(start),
	}, nil
}

func workLatency(ctx context.Context, q *workq.Queue, n int) ([]time.Duration, error) {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make([]time.Duration, 0, n)
	)
	for i := 0; i < n; i++ {
		submitted := time.Now()
		wg.Add(1)
		w := workq.NewWork(func(*workq.Work) {
			d := time.Since(submitted)
			mu.Lock()
			out = append(out, d)
			mu.Unlock()
			wg.Done()
		})
		if _, err := q.Submit(w); err != nil {
			wg.Done()
			return nil, fmt.Errorf("bench: submit: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func pipeLatency(ctx context.Context, k *kernel.Kernel, cfg Config) ([]time.Duration, error) {
	name := fmt.Sprintf("bench-%d", time.Now().UnixNano())
	p, err := k.NewPipe(name, cfg.PipeSize)
	if err != nil {
		return nil, err
	}
	defer func() { _ = k.RemovePipe(name) }()

	out := make([]time.Duration, 0, cfg.Items)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		chunk := make([]byte, cfg.Chunk)
		for i := 0; i < cfg.Items; i++ {
			binary.LittleEndian.PutUint64(chunk, uint64(time.Now().UnixNano()))
			if _, err := p.PutContext(ctx, chunk, cfg.Chunk, clock.Forever); err != nil {
				return fmt.Errorf("bench: put: %w", err)
			}
		}
		return nil
	})
	g.Go(func() error {
		buf := make([]byte, cfg.Chunk)
		for i := 0; i < cfg.Items; i++ {
			if _, err := p.GetContext(ctx, buf, cfg.Chunk, clock.Forever); err != nil {
				return fmt.Errorf("bench: get: %w", err)
			}
			sent := time.Unix(0, int64(binary.LittleEndian.Uint64(buf)))
			out = append(out, time.Since(sent))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Summarize computes the distribution of samples.
func Summarize(name string, samples []time.Duration) Summary {
	s := Summary{Name: name, Count: len(samples)}
	if len(samples) == 0 {
		return s
	}

	xs := make([]float64, len(samples))
	for i, d := range samples {
		xs[i] = float64(d)
	}
	sort.Float64s(xs)

	s.Mean = time.Duration(stat.Mean(xs, nil))
	if len(xs) > 1 {
		s.StdDev = time.Duration(stat.StdDev(xs, nil))
	}
	s.Min = time.Duration(xs[0])
	s.Max = time.Duration(xs[len(xs)-1])
	s.P50 = time.Duration(stat.Quantile(0.5, stat.Empirical, xs, nil))
	s.P90 = time.Duration(stat.Quantile(0.9, stat.Empirical, xs, nil))
	s.P99 = time.Duration(stat.Quantile(0.99, stat.Empirical, xs, nil))
	return s
}

// String renders the report as a table.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %7s %10s %10s %10s %10s %10s %10s\n", "", "count", "mean", "stddev", "p50", "p90", "p99", "max")
	for _, s := range []Summary{r.Work, r.Pipe} {
		fmt.Fprintf(&b, "%-20s %7d %10s %10s %10s %10s %10s %10s\n",
			s.Name, s.Count, s.Mean, s.StdDev, s.P50, s.P90, s.P99, s.Max)
	}
	fmt.Fprintf(&b, "elapsed %s\n", r.Elapsed.Round(time.Millisecond))
	return b.String()
}
