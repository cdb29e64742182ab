package hypothesis

import (
	"math/rand/v2"
	"testing"

	"goabtest/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randNormal(r *rand.Rand, n int, mu, sigma float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = mu + sigma*r.NormFloat64()
	}
	return out
}

func TestWelchTTest_KnownValues(t *testing.T) {
	control := []float64{1, 2, 3, 4, 5}
	treatment := []float64{2, 3, 4, 5, 6}

	result, err := WelchTTest(control, treatment)
	require.NoError(t, err)

	assert.Equal(t, MethodWelch, result.Method)
	assert.InDelta(t, 1.0, result.Difference, 1e-12)
	assert.InDelta(t, 1.0, result.StandardError, 1e-12)
	assert.InDelta(t, 1.0, result.TStatistic, 1e-12)
	assert.InDelta(t, 8.0, result.DegreesOfFreedom, 1e-9)
	assert.InDelta(t, 0.3466, result.PValue, 1e-3)
	assert.InDelta(t, 1-2.306, result.CILower, 1e-3)
	assert.InDelta(t, 1+2.306, result.CIUpper, 1e-3)
	assert.False(t, result.Significant(0.05))
}

func TestStudentTTest_EqualSizesMatchWelch(t *testing.T) {
	control := []float64{1, 2, 3, 4, 5}
	treatment := []float64{2, 3, 4, 5, 6}

	welch, err := WelchTTest(control, treatment)
	require.NoError(t, err)
	student, err := StudentTTest(control, treatment)
	require.NoError(t, err)

	assert.Equal(t, MethodStudent, student.Method)
	assert.InDelta(t, welch.TStatistic, student.TStatistic, 1e-12)
	assert.InDelta(t, welch.PValue, student.PValue, 1e-9)
}

func TestWelchTTest_UnequalVariancesLowerDF(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	control := randNormal(r, 30, 10, 1)
	treatment := randNormal(r, 80, 10, 6)

	welch, err := WelchTTest(control, treatment)
	require.NoError(t, err)
	student, err := StudentTTest(control, treatment)
	require.NoError(t, err)

	assert.Less(t, welch.DegreesOfFreedom, student.DegreesOfFreedom)
	assert.InDelta(t, 108, student.DegreesOfFreedom, 1e-12)
}

func TestWelchTTest_DetectsShift(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	control := randNormal(r, 500, 10, 2)
	treatment := randNormal(r, 500, 11, 2)

	result, err := WelchTTest(control, treatment)
	require.NoError(t, err)

	assert.True(t, result.Significant(0.05))
	assert.InDelta(t, 1.0, result.Difference, 0.4)
	assert.Less(t, result.CILower, result.Difference)
	assert.Greater(t, result.CIUpper, result.Difference)
	assert.InDelta(t, 0.5, result.CohensD, 0.2)

	t.Logf("%s", result)
}

func TestWelchTTest_InsufficientData(t *testing.T) {
	_, err := WelchTTest([]float64{1}, []float64{1, 2, 3})
	assert.ErrorIs(t, err, core.ErrInsufficientData)

	_, err = StudentTTest([]float64{1, 2}, nil)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestWelchTTest_ZeroVariance(t *testing.T) {
	_, err := WelchTTest([]float64{3, 3, 3}, []float64{4, 4, 4})
	assert.ErrorIs(t, err, core.ErrDegenerateInput)
}

func TestPValueHelpers(t *testing.T) {
	assert.InDelta(t, 1.0, TwoSidedPValue(0, 10), 1e-12)
	assert.Equal(t, 1.0, TwoSidedPValue(2, 0))
	assert.InDelta(t, 0.05, NormalTwoSidedPValue(1.959964), 1e-5)
	assert.InDelta(t, TwoSidedPValue(2.5, 20), TwoSidedPValue(-2.5, 20), 1e-15)
}
