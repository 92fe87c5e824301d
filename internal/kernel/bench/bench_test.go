package bench

import (
	"context"
	"testing"
	"time"

	"github.com/GriffinCanCode/kcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/kcore/internal/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	samples := []time.Duration{4, 1, 3, 2, 5}
	s := Summarize("x", samples)

	assert.Equal(t, 5, s.Count)
	assert.Equal(t, time.Duration(3), s.Mean)
	assert.Equal(t, time.Duration(1), s.Min)
	assert.Equal(t, time.Duration(5), s.Max)
	assert.Equal(t, time.Duration(3), s.P50)
	assert.Equal(t, time.Duration(5), s.P99)
	assert.Equal(t, time.Duration(1), s.StdDev, "sample stddev 1.58 truncated")

	empty := Summarize("none", nil)
	assert.Zero(t, empty.Mean)
	assert.Zero(t, empty.Count)
}

func TestRun(t *testing.T) {
	k, err := kernel.New(config.Default().Kernel, nil, nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	defer func() { assert.NoError(t, k.Shutdown(ctx)) }()

	r, err := Run(ctx, k, Config{Items: 200, Chunk: 16, PipeSize: 64})
	require.NoError(t, err)
	assert.Equal(t, 200, r.Work.Count)
	assert.Equal(t, 200, r.Pipe.Count)
	assert.LessOrEqual(t, r.Work.P50, r.Work.Max)
	assert.Contains(t, r.String(), "pipe put->get")

	assert.Len(t, k.Pipes(), 1, "benchmark pipe is removed")
}

func TestRunRejectsConfig(t *testing.T) {
	_, err := Run(context.Background(), nil, Config{Items: 1, Chunk: 4})
	assert.Error(t, err)
}
