package app

import (
	"context"
	"fmt"

	"goabtest/domain/core"
	"goabtest/domain/dataset"
	"goabtest/internal"
	"goabtest/internal/cuped"
	"goabtest/internal/errors"
	"goabtest/internal/hypothesis"
	"goabtest/internal/permutation"
	"goabtest/internal/profiling"
	"goabtest/internal/regression"
	"goabtest/ports"
)

// AnalysisRequest configures a CUPED analysis run
type AnalysisRequest struct {
	Alpha                float64
	Convention           cuped.Convention
	FallbackOnDegenerate bool
	Permutations         int // 0 disables the permutation test
	Workers              int
	Seed                 uint64
}

// DefaultAnalysisRequest returns alpha 0.05, population moments and no permutations
func DefaultAnalysisRequest() AnalysisRequest {
	return AnalysisRequest{
		Alpha:      0.05,
		Convention: cuped.ConventionPopulation,
		Workers:    permutation.DefaultWorkers,
		Seed:       42,
	}
}

// CUPEDAnalysis is the outcome of comparing the raw and CUPED-adjusted metric
type CUPEDAnalysis struct {
	RunID       core.RunID     `json:"run_id"`
	CreatedAt   core.Timestamp `json:"created_at"`
	DatasetID   core.DatasetID `json:"dataset_id"`
	DatasetName string         `json:"dataset_name"`
	Fingerprint core.Hash      `json:"fingerprint"`
	N           int            `json:"n"`
	ControlN    int            `json:"control_n"`
	TreatmentN  int            `json:"treatment_n"`
	Alpha       float64        `json:"alpha"`

	// Adjustment is nil when the analysis fell back to the raw metric
	Adjustment     *cuped.Result `json:"adjustment,omitempty"`
	Fallback       bool          `json:"fallback"`
	FallbackReason string        `json:"fallback_reason,omitempty"`

	Raw      *hypothesis.TTestResult `json:"raw"`
	Adjusted *hypothesis.TTestResult `json:"adjusted"`

	RawPermutation      *permutation.Result `json:"raw_permutation,omitempty"`
	AdjustedPermutation *permutation.Result `json:"adjusted_permutation,omitempty"`

	Profiles []*profiling.MetricProfile `json:"profiles,omitempty"`
}

// StandardErrorReduction is the relative shrinkage of the treatment effect's
// standard error, in percent.
func (a *CUPEDAnalysis) StandardErrorReduction() float64 {
	if a.Raw == nil || a.Adjusted == nil || a.Raw.StandardError == 0 {
		return 0
	}
	return 100 * (1 - a.Adjusted.StandardError/a.Raw.StandardError)
}

// Significant reports whether the adjusted test rejects at Alpha
func (a *CUPEDAnalysis) Significant() bool {
	return a.Adjusted != nil && a.Adjusted.Significant(a.Alpha)
}

// RegressionAnalysis compares treatment-effect estimates with and without covariates
type RegressionAnalysis struct {
	RunID     core.RunID     `json:"run_id"`
	CreatedAt core.Timestamp `json:"created_at"`
	N         int            `json:"n"`
	Alpha     float64        `json:"alpha"`

	Naive       *hypothesis.TTestResult    `json:"naive"`
	SimpleOLS   *regression.OLSResult      `json:"simple_ols"`
	AdjustedOLS *regression.OLSResult      `json:"adjusted_ols"`
	Logistic    *regression.LogisticResult `json:"logistic,omitempty"`
	LogisticErr string                     `json:"logistic_error,omitempty"`
}

// TreatmentEstimate is one row of the treatment-effect comparison
type TreatmentEstimate struct {
	Model    string
	Estimate float64
	StdError float64
	PValue   float64
}

// TreatmentEstimates lists the treatment effect on revenue under each model
func (a *RegressionAnalysis) TreatmentEstimates() []TreatmentEstimate {
	var out []TreatmentEstimate
	if a.Naive != nil {
		out = append(out, TreatmentEstimate{"difference of means", a.Naive.Difference, a.Naive.StandardError, a.Naive.PValue})
	}
	for _, fit := range []*regression.OLSResult{a.SimpleOLS, a.AdjustedOLS} {
		if fit == nil {
			continue
		}
		if c, ok := fit.Coefficient("treatment"); ok {
			out = append(out, TreatmentEstimate{fit.Formula, c.Estimate, c.StdError, c.PValue})
		}
	}
	return out
}

// ExperimentService runs the CUPED and regression analyses
type ExperimentService struct {
	rngPort ports.RNGPort
	logger  *internal.Logger
}

// NewExperimentService creates a service; a nil logger uses internal.DefaultLogger
func NewExperimentService(rngPort ports.RNGPort, logger *internal.Logger) *ExperimentService {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &ExperimentService{
		rngPort: rngPort,
		logger:  logger.WithComponent("ExperimentService"),
	}
}

// AnalyzeCUPED loads a dataset from source and analyses it
func (s *ExperimentService) AnalyzeCUPED(ctx context.Context, source ports.DatasetSource, req AnalysisRequest) (*CUPEDAnalysis, error) {
	ds, err := source.LoadDataset(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load dataset")
	}
	return s.AnalyzeDataset(ctx, ds, req)
}

// AnalyzeDataset adjusts the post metric by the pre metric and runs Welch
// t-tests on both the raw and adjusted metric.
func (s *ExperimentService) AnalyzeDataset(ctx context.Context, ds *dataset.Dataset, req AnalysisRequest) (*CUPEDAnalysis, error) {
	if req.Alpha <= 0 || req.Alpha >= 1 {
		return nil, errors.InvalidInput(fmt.Sprintf("alpha must be in (0, 1), got %v", req.Alpha))
	}
	if ds == nil {
		return nil, errors.Wrap(core.NewInsufficientDataError("dataset", 0, 2), "invalid dataset")
	}
	if err := ds.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid dataset")
	}

	runID := core.NewRunID()
	control, treated := ds.GroupSizes()
	s.logger.Info("Run %s: analysing %q (n=%d, control=%d, treatment=%d)", runID, ds.Name, ds.Len(), control, treated)

	analysis := &CUPEDAnalysis{
		RunID:       runID,
		CreatedAt:   core.Now(),
		DatasetID:   ds.ID,
		DatasetName: ds.Name,
		Fingerprint: ds.Fingerprint(),
		N:           ds.Len(),
		ControlN:    control,
		TreatmentN:  treated,
		Alpha:       req.Alpha,
	}

	post := ds.PostValues()
	treatments := ds.Treatments()

	raw, err := s.welch(post, treatments)
	if err != nil {
		return nil, errors.Wrap(err, "t-test on raw metric failed")
	}
	analysis.Raw = raw

	adjusted := post
	result, err := cuped.NewAdjuster(req.Convention).Adjust(ds.PreValues(), post)
	switch {
	case err == nil:
		analysis.Adjustment = result
		adjusted = result.Adjusted
		s.logger.Debug("Run %s: theta=%.6f rho=%.4f variance reduction %.2f%%",
			runID, result.Theta, result.Correlation, result.VarianceReduction)
	case core.IsDegenerateInput(err) && req.FallbackOnDegenerate:
		analysis.Fallback = true
		analysis.FallbackReason = err.Error()
		s.logger.Warn("Run %s: CUPED not applicable, analysing raw metric: %v", runID, err)
	default:
		return nil, errors.Wrap(err, "CUPED adjustment failed")
	}

	if analysis.Fallback {
		analysis.Adjusted = raw
	} else if analysis.Adjusted, err = s.welch(adjusted, treatments); err != nil {
		return nil, errors.Wrap(err, "t-test on adjusted metric failed")
	}

	columns := map[string][]float64{"pre": ds.PreValues(), "post": post}
	names := []string{"pre", "post"}
	if !analysis.Fallback {
		columns["post (CUPED)"] = adjusted
		names = append(names, "post (CUPED)")
	}
	for _, name := range names {
		profile, err := profiling.Profile(name, columns[name])
		if err != nil {
			s.logger.Debug("Run %s: no profile for %s: %v", runID, name, err)
			continue
		}
		analysis.Profiles = append(analysis.Profiles, profile)
	}

	if req.Permutations > 0 {
		if analysis.RawPermutation, err = s.permute(ctx, post, treatments, req); err != nil {
			return nil, errors.Wrap(err, "permutation test on raw metric failed")
		}
		if analysis.Fallback {
			analysis.AdjustedPermutation = analysis.RawPermutation
		} else if analysis.AdjustedPermutation, err = s.permute(ctx, adjusted, treatments, req); err != nil {
			return nil, errors.Wrap(err, "permutation test on adjusted metric failed")
		}
	}

	s.logger.Info("Run %s: raw p=%.4g, adjusted p=%.4g, SE reduction %.1f%%",
		runID, analysis.Raw.PValue, analysis.Adjusted.PValue, analysis.StandardErrorReduction())
	return analysis, nil
}

func (s *ExperimentService) welch(values []float64, treatments []int) (*hypothesis.TTestResult, error) {
	control, treated, err := dataset.SplitByTreatment(values, treatments)
	if err != nil {
		return nil, err
	}
	return hypothesis.WelchTTest(control, treated)
}

func (s *ExperimentService) permute(ctx context.Context, values []float64, treatments []int, req AnalysisRequest) (*permutation.Result, error) {
	tester := permutation.NewTester(s.rngPort, req.Seed)
	tester.SetShuffles(req.Permutations)
	if req.Workers > 0 {
		tester.Workers = req.Workers
	}
	return tester.Test(ctx, values, treatments)
}

// AnalyzeRegression estimates the treatment effect four ways: a naive
// difference of means, OLS on treatment alone, OLS with the age and
// engagement covariates, and a logistic model of conversion.
func (s *ExperimentService) AnalyzeRegression(ctx context.Context, sample *dataset.RegressionSample, alpha float64) (*RegressionAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if alpha <= 0 || alpha >= 1 {
		return nil, errors.InvalidInput(fmt.Sprintf("alpha must be in (0, 1), got %v", alpha))
	}
	if sample == nil {
		return nil, errors.Wrap(core.NewInsufficientDataError("regression sample", 0, 4), "invalid regression sample")
	}
	if err := sample.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid regression sample")
	}

	runID := core.NewRunID()
	s.logger.Info("Run %s: regression analysis on %d users", runID, sample.Len())

	analysis := &RegressionAnalysis{
		RunID:     runID,
		CreatedAt: core.Now(),
		N:         sample.Len(),
		Alpha:     alpha,
	}

	naive, err := s.welch(sample.Revenue, sample.TreatmentIndicators())
	if err != nil {
		return nil, errors.Wrap(err, "naive comparison failed")
	}
	analysis.Naive = naive

	simple := regression.NewDesign(sample.Revenue, true).WithResponse("revenue")
	if err := simple.AddColumn("treatment", sample.Treatment); err != nil {
		return nil, errors.Wrap(err, "failed to build design")
	}
	if analysis.SimpleOLS, err = regression.FitOLS(simple); err != nil {
		return nil, errors.Wrap(err, "simple OLS failed")
	}

	adjusted, err := covariateDesign(sample.Revenue, "revenue", sample)
	if err != nil {
		return nil, err
	}
	if analysis.AdjustedOLS, err = regression.FitOLS(adjusted); err != nil {
		return nil, errors.Wrap(err, "adjusted OLS failed")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logit, err := covariateDesign(sample.Converted, "converted", sample)
	if err != nil {
		return nil, err
	}
	analysis.Logistic, err = regression.FitLogistic(logit, regression.DefaultLogisticOptions())
	if err != nil {
		if !core.IsFitError(err) && !core.IsDegenerateInput(err) {
			return nil, errors.Wrap(err, "logistic regression failed")
		}
		analysis.LogisticErr = err.Error()
		s.logger.Warn("Run %s: logistic model skipped: %v", runID, err)
	}

	if coef, ok := analysis.AdjustedOLS.Coefficient("treatment"); ok {
		s.logger.Info("Run %s: naive lift %.4f, adjusted lift %.4f (p=%.4g)", runID, naive.Difference, coef.Estimate, coef.PValue)
	}
	return analysis, nil
}

func covariateDesign(y []float64, response string, sample *dataset.RegressionSample) (*regression.Design, error) {
	d := regression.NewDesign(y, true).WithResponse(response)
	for _, col := range []struct {
		name   string
		values []float64
	}{
		{"treatment", sample.Treatment},
		{"age", sample.Age},
		{"engagement", sample.Engagement},
	} {
		if err := d.AddColumn(col.name, col.values); err != nil {
			return nil, errors.Wrap(err, "failed to build design")
		}
	}
	return d, nil
}
