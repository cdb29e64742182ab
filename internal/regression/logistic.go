package regression

import (
	"fmt"
	"math"
	"strings"

	"goabtest/domain/core"
	"goabtest/internal/hypothesis"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// LogisticOptions controls the IRLS iterations
type LogisticOptions struct {
	MaxIterations int     `json:"max_iterations"`
	Tolerance     float64 `json:"tolerance"`
}

// DefaultLogisticOptions returns the defaults used when options are zero
func DefaultLogisticOptions() LogisticOptions {
	return LogisticOptions{
		MaxIterations: 100,
		Tolerance:     1e-8,
	}
}

// LogisticResult is a maximum likelihood logistic regression fit
type LogisticResult struct {
	Formula       string        `json:"formula"`
	Coefficients  []Coefficient `json:"coefficients"`
	OddsRatios    []float64     `json:"odds_ratios"`
	N             int           `json:"n"`
	LogLikelihood float64       `json:"log_likelihood"`
	NullLogLik    float64       `json:"null_log_likelihood"`
	PseudoR2      float64       `json:"pseudo_r_squared"` // McFadden
	Iterations    int           `json:"iterations"`
	Converged     bool          `json:"converged"`
}

// Coefficient returns the named coefficient
func (r *LogisticResult) Coefficient(name string) (Coefficient, bool) {
	return findCoefficient(r.Coefficients, name)
}

// OddsRatio returns exp(β) for the named coefficient
func (r *LogisticResult) OddsRatio(name string) (float64, bool) {
	for i, c := range r.Coefficients {
		if c.Name == name {
			return r.OddsRatios[i], true
		}
	}
	return 0, false
}

// Summary renders a fixed-width coefficient table
func (r *LogisticResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Logit Regression Results: %s\n", r.Formula)
	fmt.Fprintf(&b, "No. Observations: %d   Iterations: %d   Converged: %t\n", r.N, r.Iterations, r.Converged)
	fmt.Fprintf(&b, "Log-Likelihood: %.3f   LL-Null: %.3f   Pseudo R-squ.: %.4f\n", r.LogLikelihood, r.NullLogLik, r.PseudoR2)
	writeCoefficientTable(&b, r.Coefficients, "z")
	return b.String()
}

// FitLogistic fits a logistic regression by iteratively reweighted least
// squares. The response must be 0/1. Standard errors come from the inverse
// of XᵀWX at the solution.
func FitLogistic(d *Design, opts LogisticOptions) (*LogisticResult, error) {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultLogisticOptions().MaxIterations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultLogisticOptions().Tolerance
	}

	x, y, err := d.matrices()
	if err != nil {
		return nil, err
	}
	n, p := x.Dims()

	positives := 0.0
	for i := 0; i < n; i++ {
		v := y.AtVec(i)
		if v != 0 && v != 1 {
			return nil, fmt.Errorf("%w: row %d has response %v", core.ErrInvalidOutcome, i, v)
		}
		positives += v
	}
	if positives == 0 || positives == float64(n) {
		return nil, core.NewDegenerateInputError("binary outcome has no variation")
	}

	beta := mat.NewVecDense(p, nil)
	prob := make([]float64, n)
	var chol mat.Cholesky

	converged := false
	iterations := 0
	for iterations < opts.MaxIterations {
		iterations++

		xtwx, grad := irlsStep(x, y, beta, prob)
		if separated(y, prob) {
			return nil, fmt.Errorf("%w: perfect separation, the MLE does not exist", core.ErrNotConverged)
		}
		if ok := chol.Factorize(xtwx); !ok {
			return nil, fmt.Errorf("%w: XᵀWX is not positive definite (perfect separation?)", core.ErrSingularDesign)
		}

		var delta mat.VecDense
		if err := chol.SolveVecTo(&delta, grad); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrSingularDesign, err)
		}
		beta.AddVec(beta, &delta)

		maxStep := 0.0
		for j := 0; j < p; j++ {
			maxStep = math.Max(maxStep, math.Abs(delta.AtVec(j)))
		}
		if math.IsNaN(maxStep) {
			return nil, fmt.Errorf("%w: coefficients diverged", core.ErrNotConverged)
		}
		if maxStep < opts.Tolerance {
			converged = true
			break
		}
	}
	if !converged {
		return nil, fmt.Errorf("%w after %d iterations", core.ErrNotConverged, iterations)
	}

	// Information matrix at the solution
	xtwx, _ := irlsStep(x, y, beta, prob)
	if ok := chol.Factorize(xtwx); !ok {
		return nil, fmt.Errorf("%w: information matrix is not positive definite", core.ErrSingularDesign)
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSingularDesign, err)
	}

	logLik := 0.0
	for i := 0; i < n; i++ {
		logLik += bernoulliLogLik(y.AtVec(i), prob[i])
	}
	rate := positives / float64(n)
	nullLogLik := positives*math.Log(rate) + (float64(n)-positives)*math.Log(1-rate)

	zCrit := distuv.UnitNormal.Quantile(0.975)
	names := d.Names()
	coefs := make([]Coefficient, p)
	odds := make([]float64, p)
	for j := 0; j < p; j++ {
		est := beta.AtVec(j)
		se := math.Sqrt(cov.At(j, j))
		z := est / se
		coefs[j] = Coefficient{
			Name:      names[j],
			Estimate:  est,
			StdError:  se,
			Statistic: z,
			PValue:    hypothesis.NormalTwoSidedPValue(z),
			CILower:   est - zCrit*se,
			CIUpper:   est + zCrit*se,
		}
		odds[j] = math.Exp(est)
	}

	return &LogisticResult{
		Formula:       d.Formula(),
		Coefficients:  coefs,
		OddsRatios:    odds,
		N:             n,
		LogLikelihood: logLik,
		NullLogLik:    nullLogLik,
		PseudoR2:      1 - logLik/nullLogLik,
		Iterations:    iterations,
		Converged:     converged,
	}, nil
}

// irlsStep evaluates fitted probabilities at beta (stored into prob) and
// returns XᵀWX and the score Xᵀ(y - p).
func irlsStep(x *mat.Dense, y, beta *mat.VecDense, prob []float64) (*mat.SymDense, *mat.VecDense) {
	n, p := x.Dims()

	var eta mat.VecDense
	eta.MulVec(x, beta)

	weighted := mat.NewDense(n, p, nil)
	resid := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		pi := sigmoid(eta.AtVec(i))
		prob[i] = pi
		w := math.Max(pi*(1-pi), 1e-12)
		sw := math.Sqrt(w)
		for j := 0; j < p; j++ {
			weighted.Set(i, j, sw*x.At(i, j))
		}
		resid.SetVec(i, y.AtVec(i)-pi)
	}

	xtwx := mat.NewSymDense(p, nil)
	xtwx.SymOuterK(1, weighted.T())

	grad := mat.NewVecDense(p, nil)
	grad.MulVec(x.T(), resid)

	return xtwx, grad
}

// separated reports whether every fitted probability already matches its label
func separated(y *mat.VecDense, prob []float64) bool {
	for i, p := range prob {
		if math.Abs(y.AtVec(i)-p) > 1e-6 {
			return false
		}
	}
	return true
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func bernoulliLogLik(y, p float64) float64 {
	const eps = 1e-15
	p = math.Min(math.Max(p, eps), 1-eps)
	return y*math.Log(p) + (1-y)*math.Log(1-p)
}
