package cuped

import (
	"math"
	"math/rand/v2"
	"testing"

	"goabtest/domain/core"
	"goabtest/domain/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// correlatedSample draws X ~ N(preMean, preSD) and Y = slope*X + N(0, noiseSD)
func correlatedSample(n int, seed uint64, preMean, preSD, slope, noiseSD float64) ([]float64, []float64) {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	x := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = preMean + preSD*r.NormFloat64()
		y[i] = slope*x[i] + noiseSD*r.NormFloat64()
	}
	return x, y
}

func mean(data []float64) float64 {
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

func TestAdjust_ConstantCovariateIsDegenerate(t *testing.T) {
	x := []float64{7, 7, 7, 7, 7}
	y := []float64{1, 2, 3, 4, 5}

	_, err := Adjust(x, y)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDegenerateInput)

	_, err = Theta(x, y)
	assert.ErrorIs(t, err, core.ErrDegenerateInput)
}

func TestAdjust_TooFewObservations(t *testing.T) {
	tests := []struct {
		name string
		x, y []float64
	}{
		{"empty", []float64{}, []float64{}},
		{"single", []float64{1}, []float64{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Adjust(tt.x, tt.y)
			assert.ErrorIs(t, err, core.ErrDegenerateInput)
		})
	}
}

func TestAdjust_InvalidInput(t *testing.T) {
	_, err := Adjust([]float64{1, 2, 3}, []float64{1, 2})
	assert.ErrorIs(t, err, core.ErrLengthMismatch)

	_, err = Adjust([]float64{1, math.NaN(), 3}, []float64{1, 2, 3})
	assert.ErrorIs(t, err, core.ErrDegenerateInput)

	_, err = Adjust([]float64{1, 2, 3}, []float64{1, math.Inf(1), 3})
	assert.ErrorIs(t, err, core.ErrDegenerateInput)
}

func TestAdjust_TwoObservations(t *testing.T) {
	result, err := Adjust([]float64{1, 3}, []float64{2, 5})
	require.NoError(t, err)

	assert.InDelta(t, 1.5, result.Theta, 1e-12)
	assert.InDelta(t, 2.0, result.PreMean, 1e-12)
	assert.InDeltaSlice(t, []float64{3.5, 3.5}, result.Adjusted, 1e-12)
	assert.Equal(t, 2, result.N)
}

func TestAdjust_PreservesMean(t *testing.T) {
	for seed := uint64(1); seed <= 5; seed++ {
		x, y := correlatedSample(500, seed, 50, 10, 0.8, 4)
		result, err := Adjust(x, y)
		require.NoError(t, err)
		assert.InDelta(t, mean(y), mean(result.Adjusted), 1e-9, "seed %d", seed)
	}
}

func TestAdjust_ReducesVariance(t *testing.T) {
	x, y := correlatedSample(1000, 7, 50, 10, 0.5, 8)
	result, err := Adjust(x, y)
	require.NoError(t, err)

	assert.Less(t, result.AdjustedVariance, result.OriginalVariance)
	assert.Greater(t, result.VarianceReduction, 0.0)

	// With consistent normalisation Var(Y*) = Var(Y)·(1 - ρ²) exactly.
	expected := 100 * result.Correlation * result.Correlation
	assert.InDelta(t, expected, result.VarianceReduction, 1e-8)
}

func TestAdjust_UncorrelatedIsIdentity(t *testing.T) {
	// Cov(X, Y) is exactly zero for these values.
	x := []float64{1, 2, 3, 4}
	y := []float64{1, 0, 0, 1}

	result, err := Adjust(x, y)
	require.NoError(t, err)

	assert.Equal(t, 0.0, result.Theta)
	assert.Equal(t, y, result.Adjusted)
	assert.InDelta(t, 0.0, result.VarianceReduction, 1e-12)
}

func TestAdjust_NearIdentityPostPeriod(t *testing.T) {
	// Y = X + small noise: θ ≈ 1 and the adjusted variance is the noise variance.
	x, y := correlatedSample(5000, 11, 50, 10, 1.0, 1.0)

	result, err := Adjust(x, y)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, result.Theta, 0.02)
	assert.InDelta(t, 1.0, result.AdjustedVariance, 0.1)
	assert.Greater(t, result.OriginalVariance, 50*result.AdjustedVariance)
}

func TestAdjust_ReferenceScenario(t *testing.T) {
	// Mirrors the reference run: N=1000, pre-period mean 50 sd 10,
	// post = pre + treatment effect + noise with sd 5.
	r := rand.New(rand.NewPCG(42, 42))
	n := 1000
	x := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = 50 + 10*r.NormFloat64()
		treated := 0.0
		if r.Float64() < 0.5 {
			treated = 1
		}
		y[i] = x[i] + treated + 5*r.NormFloat64()
	}

	result, err := Adjust(x, y)
	require.NoError(t, err)

	assert.Less(t, result.AdjustedVariance, result.OriginalVariance)
	assert.InDelta(t, 125, result.OriginalVariance, 20)
	assert.InDelta(t, 25, result.AdjustedVariance, 6)
	assert.GreaterOrEqual(t, result.VarianceReduction, 60.0)
	assert.LessOrEqual(t, result.VarianceReduction, 90.0)

	t.Logf("Original Variance: %.2f, CUPED Adjusted Variance: %.2f (%.2f%% reduction)",
		result.OriginalVariance, result.AdjustedVariance, result.VarianceReduction)
}

func TestAdjuster_ConventionsAgreeOnTheta(t *testing.T) {
	x, y := correlatedSample(200, 3, 20, 5, 2, 3)

	population, err := NewAdjuster(ConventionPopulation).Adjust(x, y)
	require.NoError(t, err)
	sample, err := NewAdjuster(ConventionSample).Adjust(x, y)
	require.NoError(t, err)

	assert.InDelta(t, population.Theta, sample.Theta, 1e-10)
	assert.InDeltaSlice(t, population.Adjusted, sample.Adjusted, 1e-9)
	assert.InDelta(t, population.VarianceReduction, sample.VarianceReduction, 1e-8)

	n := float64(len(x))
	assert.InDelta(t, population.OriginalVariance*n/(n-1), sample.OriginalVariance, 1e-9)
	assert.Equal(t, "sample", sample.Convention)
}

func TestParseConvention(t *testing.T) {
	c, err := ParseConvention("sample")
	require.NoError(t, err)
	assert.Equal(t, ConventionSample, c)

	c, err = ParseConvention("")
	require.NoError(t, err)
	assert.Equal(t, ConventionPopulation, c)

	_, err = ParseConvention("bessel")
	assert.Error(t, err)
}

func TestAdjustDataset(t *testing.T) {
	x, y := correlatedSample(100, 5, 50, 10, 1, 2)
	treatments := make([]int, len(x))
	for i := range treatments {
		treatments[i] = i % 2
	}
	ds, err := dataset.FromColumns("unit", "test", x, y, treatments)
	require.NoError(t, err)

	fromDataset, err := AdjustDataset(ds)
	require.NoError(t, err)
	direct, err := Adjust(x, y)
	require.NoError(t, err)

	assert.Equal(t, direct.Theta, fromDataset.Theta)
	assert.Equal(t, direct.Adjusted, fromDataset.Adjusted)

	_, err = AdjustDataset(nil)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}
