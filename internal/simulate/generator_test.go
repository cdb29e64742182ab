package simulate

import (
	"context"
	"testing"

	"goabtest/adapters/rng"
	"goabtest/internal/cuped"
	"goabtest/internal/errors"
	"goabtest/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ ports.DatasetSource    = (*CUPEDGenerator)(nil)
	_ ports.RegressionSource = (*RegressionGenerator)(nil)
)

func TestCUPEDGenerator_Deterministic(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultCUPEDConfig()

	a, err := NewCUPEDGenerator(cfg, rng.NewAdapter()).Generate(ctx)
	require.NoError(t, err)
	b, err := NewCUPEDGenerator(cfg, rng.NewAdapter()).Generate(ctx)
	require.NoError(t, err)

	assert.Equal(t, cfg.N, a.Len())
	assert.Equal(t, a.Observations, b.Observations)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Equal(t, "simulated", a.Source)

	cfg.Seed = 7
	c, err := NewCUPEDGenerator(cfg, rng.NewAdapter()).Generate(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestCUPEDGenerator_Shape(t *testing.T) {
	cfg := DefaultCUPEDConfig()
	cfg.N = 5000

	ds, err := NewCUPEDGenerator(cfg, rng.NewAdapter()).LoadDataset(context.Background())
	require.NoError(t, err)
	require.NoError(t, ds.Validate())

	control, treatment := ds.GroupSizes()
	assert.InDelta(t, 0.5, float64(treatment)/float64(control+treatment), 0.03)

	result, err := cuped.AdjustDataset(ds)
	require.NoError(t, err)
	assert.InDelta(t, cfg.Slope, result.Theta, 0.05)
	assert.InDelta(t, cfg.PreMean, result.PreMean, 0.5)
	assert.Greater(t, result.VarianceReduction, 60.0)
}

func TestCUPEDConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CUPEDConfig)
	}{
		{"tiny sample", func(c *CUPEDConfig) { c.N = 1 }},
		{"negative sd", func(c *CUPEDConfig) { c.NoiseStdDev = -1 }},
		{"rate zero", func(c *CUPEDConfig) { c.TreatmentRate = 0 }},
		{"rate one", func(c *CUPEDConfig) { c.TreatmentRate = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCUPEDConfig()
			tt.mutate(&cfg)
			_, err := NewCUPEDGenerator(cfg, rng.NewAdapter()).Generate(context.Background())
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
		})
	}
}

func TestRegressionGenerator_Sample(t *testing.T) {
	cfg := DefaultRegressionConfig()
	cfg.N = 4000

	sample, err := NewRegressionGenerator(cfg, rng.NewAdapter()).LoadRegressionSample(context.Background())
	require.NoError(t, err)
	require.NoError(t, sample.Validate())
	assert.Equal(t, cfg.N, sample.Len())

	var convControl, nControl float64
	for i := range sample.Treatment {
		assert.GreaterOrEqual(t, sample.Age[i], minAge)
		assert.LessOrEqual(t, sample.Age[i], maxAge)
		assert.Greater(t, sample.Engagement[i], 0.0)
		if sample.Treatment[i] == 0 {
			nControl++
			convControl += sample.Converted[i]
		}
	}
	assert.InDelta(t, cfg.BaselineConversion, convControl/nControl, 0.04)

	again, err := NewRegressionGenerator(cfg, rng.NewAdapter()).Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sample.Revenue, again.Revenue)
}

func TestRegressionConfig_Validate(t *testing.T) {
	cfg := DefaultRegressionConfig()
	require.NoError(t, cfg.Validate())

	cfg.BaselineConversion = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultRegressionConfig()
	cfg.N = 3
	assert.Error(t, cfg.Validate())
}
