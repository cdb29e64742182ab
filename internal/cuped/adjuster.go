// Package cuped implements CUPED (Controlled-experiment Using Pre-Experiment
// Data) variance reduction. The adjusted metric is
//
//	Y*_i = Y_i - θ·(X_i - mean(X)),  θ = Cov(Y, X) / Var(X)
//
// where X is a pre-period covariate and θ is estimated over the whole sample,
// never per group. The adjustment term is centred at zero, so mean(Y*) equals
// mean(Y) while Var(Y*) = Var(Y)·(1 - ρ²).
package cuped

import (
	"fmt"
	"math"

	"goabtest/domain/core"
	"goabtest/domain/dataset"

	"github.com/montanaflynn/stats"
)

// Convention selects the normalisation used for variance and covariance.
// θ is identical under both because the denominators cancel; only the
// reported variances differ.
type Convention int

const (
	// ConventionPopulation divides by N
	ConventionPopulation Convention = iota
	// ConventionSample divides by N-1
	ConventionSample
)

// String returns the convention name
func (c Convention) String() string {
	switch c {
	case ConventionSample:
		return "sample"
	default:
		return "population"
	}
}

// ParseConvention parses "population" or "sample"
func ParseConvention(s string) (Convention, error) {
	switch s {
	case "", "population":
		return ConventionPopulation, nil
	case "sample":
		return ConventionSample, nil
	}
	return ConventionPopulation, fmt.Errorf("unknown covariance convention %q (want population|sample)", s)
}

// Result is the output of a CUPED adjustment
type Result struct {
	Theta             float64   `json:"theta"`
	PreMean           float64   `json:"pre_mean"`
	Correlation       float64   `json:"correlation"`
	Adjusted          []float64 `json:"adjusted"`
	OriginalVariance  float64   `json:"original_variance"`
	AdjustedVariance  float64   `json:"adjusted_variance"`
	VarianceReduction float64   `json:"variance_reduction_pct"`
	Convention        string    `json:"convention"`
	N                 int       `json:"n"`
}

// Adjuster computes θ and the adjusted metric. It holds no state between calls.
type Adjuster struct {
	convention Convention
}

// NewAdjuster creates an adjuster using the given normalisation convention
func NewAdjuster(convention Convention) *Adjuster {
	return &Adjuster{convention: convention}
}

var defaultAdjuster = NewAdjuster(ConventionPopulation)

// Theta computes θ with the population convention
func Theta(x, y []float64) (float64, error) {
	return defaultAdjuster.Theta(x, y)
}

// Adjust applies CUPED with the population convention
func Adjust(x, y []float64) (*Result, error) {
	return defaultAdjuster.Adjust(x, y)
}

// AdjustDataset applies CUPED with the population convention to a dataset's
// pre- and post-period columns.
func AdjustDataset(ds *dataset.Dataset) (*Result, error) {
	return defaultAdjuster.AdjustDataset(ds)
}

// Convention returns the normalisation convention in use
func (a *Adjuster) Convention() Convention {
	return a.convention
}

// Theta computes θ = Cov(Y, X) / Var(X) across the full sample.
// x is the pre-period covariate, y the post-period metric.
func (a *Adjuster) Theta(x, y []float64) (float64, error) {
	m, err := a.moments(x, y)
	if err != nil {
		return 0, err
	}
	return m.theta(), nil
}

// Adjust computes θ and Y*_i = Y_i - θ·(X_i - mean(X)) for every observation.
// It fails with core.ErrDegenerateInput when N < 2 or X is constant.
func (a *Adjuster) Adjust(x, y []float64) (*Result, error) {
	m, err := a.moments(x, y)
	if err != nil {
		return nil, err
	}

	theta := m.theta()
	adjusted := make([]float64, len(y))
	for i := range y {
		adjusted[i] = y[i] - theta*(x[i]-m.meanX)
	}

	originalVar, err := a.variance(y)
	if err != nil {
		return nil, fmt.Errorf("post-period variance: %w", err)
	}
	adjustedVar, err := a.variance(adjusted)
	if err != nil {
		return nil, fmt.Errorf("adjusted variance: %w", err)
	}

	reduction := 0.0
	if originalVar > 0 {
		reduction = (1 - adjustedVar/originalVar) * 100
	}

	correlation := 0.0
	if originalVar > 0 {
		correlation = m.covXY / math.Sqrt(m.varX*originalVar)
	}

	return &Result{
		Theta:             theta,
		PreMean:           m.meanX,
		Correlation:       correlation,
		Adjusted:          adjusted,
		OriginalVariance:  originalVar,
		AdjustedVariance:  adjustedVar,
		VarianceReduction: reduction,
		Convention:        a.convention.String(),
		N:                 len(x),
	}, nil
}

// AdjustDataset applies Adjust to the dataset's pre- and post-period columns
func (a *Adjuster) AdjustDataset(ds *dataset.Dataset) (*Result, error) {
	if ds == nil {
		return nil, core.NewInsufficientDataError("dataset", 0, 2)
	}
	return a.Adjust(ds.PreValues(), ds.PostValues())
}

type moments struct {
	meanX float64
	varX  float64
	covXY float64
}

func (m moments) theta() float64 {
	return m.covXY / m.varX
}

// moments validates the input and computes mean(X), Var(X) and Cov(X, Y)
// under the adjuster's convention.
func (a *Adjuster) moments(x, y []float64) (moments, error) {
	if len(x) != len(y) {
		return moments{}, core.NewLengthMismatchError("post-period metric", len(y), len(x))
	}
	if len(x) < 2 {
		return moments{}, core.NewDegenerateInputError(fmt.Sprintf("need at least 2 observations, got %d", len(x)))
	}
	if err := checkFinite("pre-period covariate", x); err != nil {
		return moments{}, err
	}
	if err := checkFinite("post-period metric", y); err != nil {
		return moments{}, err
	}
	if isConstant(x) {
		return moments{}, core.NewDegenerateInputError("variance of pre-period covariate is zero")
	}

	meanX, err := stats.Mean(x)
	if err != nil {
		return moments{}, fmt.Errorf("pre-period mean: %w", err)
	}
	varX, err := a.variance(x)
	if err != nil {
		return moments{}, fmt.Errorf("pre-period variance: %w", err)
	}
	if varX <= 0 {
		return moments{}, core.NewDegenerateInputError("variance of pre-period covariate is zero")
	}

	var covXY float64
	switch a.convention {
	case ConventionSample:
		covXY, err = stats.Covariance(x, y)
	default:
		covXY, err = stats.CovariancePopulation(x, y)
	}
	if err != nil {
		return moments{}, fmt.Errorf("covariance: %w", err)
	}

	return moments{meanX: meanX, varX: varX, covXY: covXY}, nil
}

func (a *Adjuster) variance(data []float64) (float64, error) {
	if a.convention == ConventionSample {
		return stats.SampleVariance(data)
	}
	return stats.PopulationVariance(data)
}

func checkFinite(name string, data []float64) error {
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return core.NewDegenerateInputError(fmt.Sprintf("%s has non-finite value at index %d", name, i))
		}
	}
	return nil
}

func isConstant(data []float64) bool {
	for _, v := range data[1:] {
		if v != data[0] {
			return false
		}
	}
	return true
}
