package hypothesis

import (
	"fmt"
	"math"

	"goabtest/domain/core"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Method names reported in TTestResult
const (
	MethodWelch   = "welch"
	MethodStudent = "student"
)

// DefaultConfidence is the confidence level for reported intervals
const DefaultConfidence = 0.95

// TTestResult describes a two-sample comparison of means.
// Differences are always treatment minus control.
type TTestResult struct {
	Method           string  `json:"method"`
	ControlMean      float64 `json:"control_mean"`
	TreatmentMean    float64 `json:"treatment_mean"`
	ControlVariance  float64 `json:"control_variance"`
	TreatmentVar     float64 `json:"treatment_variance"`
	ControlN         int     `json:"control_n"`
	TreatmentN       int     `json:"treatment_n"`
	Difference       float64 `json:"difference"`
	StandardError    float64 `json:"standard_error"`
	TStatistic       float64 `json:"t_statistic"`
	DegreesOfFreedom float64 `json:"degrees_of_freedom"`
	PValue           float64 `json:"p_value"`
	CILower          float64 `json:"ci_lower"`
	CIUpper          float64 `json:"ci_upper"`
	Confidence       float64 `json:"confidence"`
	CohensD          float64 `json:"cohens_d"`
}

// Significant reports whether the two-sided p-value is below alpha
func (r *TTestResult) Significant(alpha float64) bool {
	return r.PValue < alpha
}

// String formats the result in one line
func (r *TTestResult) String() string {
	return fmt.Sprintf("%s t-test: diff=%.4f (%.0f%% CI [%.4f, %.4f]), t=%.3f, df=%.1f, p=%.4g, d=%.3f, n=%d/%d",
		r.Method, r.Difference, r.Confidence*100, r.CILower, r.CIUpper,
		r.TStatistic, r.DegreesOfFreedom, r.PValue, r.CohensD, r.ControlN, r.TreatmentN)
}

// WelchTTest compares group means without assuming equal variances.
// Degrees of freedom follow the Welch-Satterthwaite equation.
func WelchTTest(control, treatment []float64) (*TTestResult, error) {
	g, err := describeGroups(control, treatment)
	if err != nil {
		return nil, err
	}

	a := g.varC / g.nC
	b := g.varT / g.nT
	se := math.Sqrt(a + b)
	if se == 0 || math.IsNaN(se) {
		return nil, core.NewDegenerateInputError("both groups have zero variance")
	}

	df := (a + b) * (a + b) / (a*a/(g.nC-1) + b*b/(g.nT-1))
	return g.result(MethodWelch, se, df), nil
}

// StudentTTest compares group means assuming equal variances (pooled estimate)
func StudentTTest(control, treatment []float64) (*TTestResult, error) {
	g, err := describeGroups(control, treatment)
	if err != nil {
		return nil, err
	}

	df := g.nC + g.nT - 2
	pooled := ((g.nC-1)*g.varC + (g.nT-1)*g.varT) / df
	se := math.Sqrt(pooled * (1/g.nC + 1/g.nT))
	if se == 0 || math.IsNaN(se) {
		return nil, core.NewDegenerateInputError("both groups have zero variance")
	}

	return g.result(MethodStudent, se, df), nil
}

// TwoSidedPValue returns P(|T| >= |t|) for Student's t with df degrees of freedom
func TwoSidedPValue(t, df float64) float64 {
	if df <= 0 || math.IsNaN(t) {
		return 1.0
	}
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * dist.Survival(math.Abs(t))
	if p > 1 {
		p = 1
	}
	return p
}

// NormalTwoSidedPValue returns P(|Z| >= |z|) for a standard normal
func NormalTwoSidedPValue(z float64) float64 {
	if math.IsNaN(z) {
		return 1.0
	}
	return 2 * distuv.UnitNormal.Survival(math.Abs(z))
}

type groups struct {
	meanC, meanT float64
	varC, varT   float64
	nC, nT       float64
}

func describeGroups(control, treatment []float64) (*groups, error) {
	if len(control) < 2 {
		return nil, core.NewInsufficientDataError("control group", len(control), 2)
	}
	if len(treatment) < 2 {
		return nil, core.NewInsufficientDataError("treatment group", len(treatment), 2)
	}

	meanC, err := stats.Mean(control)
	if err != nil {
		return nil, fmt.Errorf("control mean: %w", err)
	}
	meanT, err := stats.Mean(treatment)
	if err != nil {
		return nil, fmt.Errorf("treatment mean: %w", err)
	}
	varC, err := stats.SampleVariance(control)
	if err != nil {
		return nil, fmt.Errorf("control variance: %w", err)
	}
	varT, err := stats.SampleVariance(treatment)
	if err != nil {
		return nil, fmt.Errorf("treatment variance: %w", err)
	}

	return &groups{
		meanC: meanC, meanT: meanT,
		varC: varC, varT: varT,
		nC: float64(len(control)), nT: float64(len(treatment)),
	}, nil
}

func (g *groups) result(method string, se, df float64) *TTestResult {
	diff := g.meanT - g.meanC
	tStat := diff / se

	tCrit := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Quantile(1 - (1-DefaultConfidence)/2)

	// Cohen's d with the pooled standard deviation
	pooledSD := math.Sqrt(((g.nC-1)*g.varC + (g.nT-1)*g.varT) / (g.nC + g.nT - 2))
	cohensD := 0.0
	if pooledSD > 0 {
		cohensD = diff / pooledSD
	}

	return &TTestResult{
		Method:           method,
		ControlMean:      g.meanC,
		TreatmentMean:    g.meanT,
		ControlVariance:  g.varC,
		TreatmentVar:     g.varT,
		ControlN:         int(g.nC),
		TreatmentN:       int(g.nT),
		Difference:       diff,
		StandardError:    se,
		TStatistic:       tStat,
		DegreesOfFreedom: df,
		PValue:           TwoSidedPValue(tStat, df),
		CILower:          diff - tCrit*se,
		CIUpper:          diff + tCrit*se,
		Confidence:       DefaultConfidence,
		CohensD:          cohensD,
	}
}
