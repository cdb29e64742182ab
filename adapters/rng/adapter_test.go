package rng

import (
	"context"
	"testing"

	"goabtest/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.RNGPort = (*Adapter)(nil)

func TestSeededStream_Deterministic(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter()

	r1, err := a.SeededStream(ctx, "simulate", 42)
	require.NoError(t, err)
	r2, err := a.SeededStream(ctx, "simulate", 42)
	require.NoError(t, err)
	r3, err := a.SeededStream(ctx, "permutation", 42)
	require.NoError(t, err)

	draws := make([]float64, 5)
	for i := range draws {
		draws[i] = r1.Float64()
		assert.Equal(t, draws[i], r2.Float64())
	}
	assert.NotEqual(t, draws[0], r3.Float64())

	require.NoError(t, a.ValidateSeed(ctx, "simulate", 42, draws))
	assert.Error(t, a.ValidateSeed(ctx, "simulate", 43, draws))
}

func TestStream_KeyedByWorker(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter()

	w0, err := a.Stream(ctx, "run-1", "permutation", "worker-0", 7)
	require.NoError(t, err)
	w0Again, err := a.Stream(ctx, "run-1", "permutation", "worker-0", 7)
	require.NoError(t, err)
	w1, err := a.Stream(ctx, "run-1", "permutation", "worker-1", 7)
	require.NoError(t, err)

	first := w0.Uint64()
	assert.Equal(t, first, w0Again.Uint64())
	assert.NotEqual(t, first, w1.Uint64())
}

func TestStream_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewAdapter().Stream(ctx, "run", "stage", "key", 1)
	assert.ErrorIs(t, err, context.Canceled)
}
