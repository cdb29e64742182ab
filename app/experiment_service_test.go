package app

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"

	"goabtest/adapters/rng"
	"goabtest/domain/core"
	"goabtest/domain/dataset"
	"goabtest/internal"
	"goabtest/internal/errors"
	"goabtest/internal/simulate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDatasetSource struct {
	mock.Mock
}

func (m *MockDatasetSource) LoadDataset(ctx context.Context) (*dataset.Dataset, error) {
	args := m.Called(ctx)
	ds, _ := args.Get(0).(*dataset.Dataset)
	return ds, args.Error(1)
}

func newTestService(t *testing.T) (*ExperimentService, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return NewExperimentService(rng.NewAdapter(), internal.NewLoggerTo(&buf, internal.LogLevelDebug)), &buf
}

func TestAnalyzeCUPED_ReferenceScenario(t *testing.T) {
	svc, logs := newTestService(t)
	ctx := context.Background()

	generator := simulate.NewCUPEDGenerator(simulate.DefaultCUPEDConfig(), rng.NewAdapter())
	req := DefaultAnalysisRequest()
	req.Permutations = 500

	analysis, err := svc.AnalyzeCUPED(ctx, generator, req)
	require.NoError(t, err)

	require.NotNil(t, analysis.Adjustment)
	assert.False(t, analysis.Fallback)
	assert.Equal(t, 1000, analysis.N)
	assert.Equal(t, analysis.N, analysis.ControlN+analysis.TreatmentN)
	assert.False(t, analysis.RunID.String() == "")
	assert.False(t, analysis.Fingerprint.IsEmpty())

	// The adjustment leaves the effect estimate roughly in place but shrinks its SE
	assert.InDelta(t, analysis.Raw.Difference, analysis.Adjusted.Difference, 2.5)
	assert.Less(t, analysis.Adjusted.StandardError, analysis.Raw.StandardError)
	assert.Greater(t, analysis.StandardErrorReduction(), 30.0)
	assert.Greater(t, analysis.Adjustment.VarianceReduction, 60.0)

	require.NotNil(t, analysis.RawPermutation)
	require.NotNil(t, analysis.AdjustedPermutation)
	assert.Equal(t, 500, analysis.AdjustedPermutation.Shuffles)
	assert.InDelta(t, analysis.Adjusted.Difference, analysis.AdjustedPermutation.Observed, 1e-9)

	assert.Contains(t, logs.String(), "[INFO] [ExperimentService]")
}

func TestAnalyzeDataset_DegenerateCovariate(t *testing.T) {
	ds, err := dataset.FromColumns("flat", "test",
		[]float64{5, 5, 5, 5, 5, 5},
		[]float64{1, 2, 3, 4, 6, 8},
		[]int{0, 0, 0, 1, 1, 1},
	)
	require.NoError(t, err)

	t.Run("error without fallback", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.AnalyzeDataset(context.Background(), ds, DefaultAnalysisRequest())
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrDegenerateInput)
		assert.Equal(t, errors.CodeDegenerateInput, errors.GetCode(err))
	})

	t.Run("fallback to raw metric", func(t *testing.T) {
		svc, logs := newTestService(t)
		req := DefaultAnalysisRequest()
		req.FallbackOnDegenerate = true
		req.Permutations = 100

		analysis, err := svc.AnalyzeDataset(context.Background(), ds, req)
		require.NoError(t, err)

		assert.True(t, analysis.Fallback)
		assert.Nil(t, analysis.Adjustment)
		assert.Contains(t, analysis.FallbackReason, "degenerate input")
		assert.Equal(t, analysis.Raw, analysis.Adjusted)
		assert.Equal(t, analysis.RawPermutation, analysis.AdjustedPermutation)
		assert.Equal(t, 0.0, analysis.StandardErrorReduction())
		assert.Contains(t, logs.String(), "[WARN]")
	})
}

func TestAnalyzeCUPED_SourceError(t *testing.T) {
	svc, _ := newTestService(t)
	source := new(MockDatasetSource)
	source.On("LoadDataset", mock.Anything).Return(nil, errors.IOError("disk gone", stderrors.New("EIO")))

	_, err := svc.AnalyzeCUPED(context.Background(), source, DefaultAnalysisRequest())
	require.Error(t, err)
	assert.Equal(t, errors.CodeIOError, errors.GetCode(err))
	source.AssertExpectations(t)
}

func TestAnalyzeCUPED_FromMockSource(t *testing.T) {
	svc, _ := newTestService(t)
	ds, err := dataset.FromColumns("mock", "test",
		[]float64{1, 2, 3, 4, 5, 6, 7, 8},
		[]float64{1.5, 2, 3.5, 4, 5.5, 6, 7.5, 8},
		[]int{0, 1, 0, 1, 0, 1, 0, 1},
	)
	require.NoError(t, err)

	source := new(MockDatasetSource)
	source.On("LoadDataset", mock.Anything).Return(ds, nil).Once()

	analysis, err := svc.AnalyzeCUPED(context.Background(), source, DefaultAnalysisRequest())
	require.NoError(t, err)
	assert.Equal(t, ds.ID, analysis.DatasetID)
	assert.Equal(t, "mock", analysis.DatasetName)
	assert.Nil(t, analysis.RawPermutation)
	source.AssertExpectations(t)
}

func TestAnalyzeDataset_InvalidRequest(t *testing.T) {
	svc, _ := newTestService(t)
	ds := dataset.New("bad", "test", []dataset.Observation{{Pre: 1, Post: 1, Treatment: 3}})

	_, err := svc.AnalyzeDataset(context.Background(), ds, DefaultAnalysisRequest())
	assert.ErrorIs(t, err, core.ErrInvalidTreatment)

	req := DefaultAnalysisRequest()
	req.Alpha = 0
	_, err = svc.AnalyzeDataset(context.Background(), ds, req)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestAnalyzeRegression(t *testing.T) {
	svc, _ := newTestService(t)
	cfg := simulate.DefaultRegressionConfig()
	cfg.N = 3000

	sample, err := simulate.NewRegressionGenerator(cfg, rng.NewAdapter()).Generate(context.Background())
	require.NoError(t, err)

	analysis, err := svc.AnalyzeRegression(context.Background(), sample, 0.05)
	require.NoError(t, err)

	require.NotNil(t, analysis.Logistic)
	assert.Empty(t, analysis.LogisticErr)
	assert.Equal(t, "revenue ~ treatment", analysis.SimpleOLS.Formula)
	assert.Equal(t, "revenue ~ treatment + age + engagement", analysis.AdjustedOLS.Formula)
	assert.Equal(t, "converted ~ treatment + age + engagement", analysis.Logistic.Formula)

	naive, _ := analysis.SimpleOLS.Coefficient("treatment")
	adjusted, _ := analysis.AdjustedOLS.Coefficient("treatment")
	assert.InDelta(t, analysis.Naive.Difference, naive.Estimate, 1e-9)
	assert.InDelta(t, cfg.RevenueLift, adjusted.Estimate, 1.5)
	assert.Less(t, adjusted.StdError, naive.StdError)
	assert.Greater(t, analysis.AdjustedOLS.RSquared, analysis.SimpleOLS.RSquared)

	estimates := analysis.TreatmentEstimates()
	require.Len(t, estimates, 3)
	assert.Equal(t, "difference of means", estimates[0].Model)
}

func TestAnalyzeRegression_InvalidSample(t *testing.T) {
	svc, _ := newTestService(t)
	sample := &dataset.RegressionSample{
		Treatment:  []float64{0, 1},
		Age:        []float64{30},
		Engagement: []float64{1, 2},
		Revenue:    []float64{10, 12},
		Converted:  []float64{0, 1},
	}
	_, err := svc.AnalyzeRegression(context.Background(), sample, 0.05)
	assert.ErrorIs(t, err, core.ErrLengthMismatch)
}

func TestAnalyze_NilInput(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.AnalyzeDataset(context.Background(), nil, DefaultAnalysisRequest())
	assert.ErrorIs(t, err, core.ErrInsufficientData)

	_, err = svc.AnalyzeRegression(context.Background(), nil, 0.05)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestAnalyzeDataset_Profiles(t *testing.T) {
	svc, _ := newTestService(t)
	generator := simulate.NewCUPEDGenerator(simulate.DefaultCUPEDConfig(), rng.NewAdapter())
	ds, err := generator.Generate(context.Background())
	require.NoError(t, err)

	analysis, err := svc.AnalyzeDataset(context.Background(), ds, DefaultAnalysisRequest())
	require.NoError(t, err)

	require.Len(t, analysis.Profiles, 3)
	assert.Equal(t, "pre", analysis.Profiles[0].Name)
	assert.Equal(t, "post (CUPED)", analysis.Profiles[2].Name)
	assert.Less(t, analysis.Profiles[2].StdDev, analysis.Profiles[1].StdDev)
	assert.InDelta(t, analysis.Profiles[1].Mean, analysis.Profiles[2].Mean, 1e-9)
}
