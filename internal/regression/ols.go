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

// OLSResult is an ordinary least squares fit with classical standard errors
type OLSResult struct {
	Formula          string        `json:"formula"`
	Coefficients     []Coefficient `json:"coefficients"`
	N                int           `json:"n"`
	DFResidual       int           `json:"df_residual"`
	RSquared         float64       `json:"r_squared"`
	AdjRSquared      float64       `json:"adj_r_squared"`
	ResidualStdError float64       `json:"residual_std_error"`
	FStatistic       float64       `json:"f_statistic"`
	FPValue          float64       `json:"f_p_value"`
	Residuals        []float64     `json:"-"`
}

// Coefficient returns the named coefficient
func (r *OLSResult) Coefficient(name string) (Coefficient, bool) {
	return findCoefficient(r.Coefficients, name)
}

// Summary renders a fixed-width coefficient table
func (r *OLSResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "OLS Regression Results: %s\n", r.Formula)
	fmt.Fprintf(&b, "No. Observations: %d   Df Residuals: %d\n", r.N, r.DFResidual)
	fmt.Fprintf(&b, "R-squared: %.4f   Adj. R-squared: %.4f\n", r.RSquared, r.AdjRSquared)
	fmt.Fprintf(&b, "F-statistic: %.3f   Prob (F-statistic): %.4g\n", r.FStatistic, r.FPValue)
	writeCoefficientTable(&b, r.Coefficients, "t")
	return b.String()
}

// FitOLS solves the normal equations β = (XᵀX)⁻¹Xᵀy through a Cholesky
// factorisation of XᵀX, which also yields the covariance of β.
func FitOLS(d *Design) (*OLSResult, error) {
	x, y, err := d.matrices()
	if err != nil {
		return nil, err
	}
	n, p := x.Dims()

	var xtx mat.SymDense
	xtx.SymOuterK(1, x.T())

	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return nil, fmt.Errorf("%w: XᵀX is not positive definite", core.ErrSingularDesign)
	}

	var xty mat.VecDense
	xty.MulVec(x.T(), y)

	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &xty); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSingularDesign, err)
	}

	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSingularDesign, err)
	}

	var fitted mat.VecDense
	fitted.MulVec(x, &beta)

	meanY := 0.0
	for i := 0; i < n; i++ {
		meanY += y.AtVec(i)
	}
	meanY /= float64(n)

	residuals := make([]float64, n)
	rss, tss := 0.0, 0.0
	for i := 0; i < n; i++ {
		residuals[i] = y.AtVec(i) - fitted.AtVec(i)
		rss += residuals[i] * residuals[i]
		centre := meanY
		if !d.intercept {
			centre = 0
		}
		dev := y.AtVec(i) - centre
		tss += dev * dev
	}

	dfResid := n - p
	dfModel := p
	dfTotal := n
	if d.intercept {
		dfModel = p - 1
		dfTotal = n - 1
	}

	sigma2 := rss / float64(dfResid)
	tCrit := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(dfResid)}.Quantile(0.975)

	names := d.Names()
	coefs := make([]Coefficient, p)
	for j := 0; j < p; j++ {
		est := beta.AtVec(j)
		se := math.Sqrt(sigma2 * inv.At(j, j))
		tStat := est / se
		coefs[j] = Coefficient{
			Name:      names[j],
			Estimate:  est,
			StdError:  se,
			Statistic: tStat,
			PValue:    hypothesis.TwoSidedPValue(tStat, float64(dfResid)),
			CILower:   est - tCrit*se,
			CIUpper:   est + tCrit*se,
		}
	}

	result := &OLSResult{
		Formula:          d.Formula(),
		Coefficients:     coefs,
		N:                n,
		DFResidual:       dfResid,
		ResidualStdError: math.Sqrt(sigma2),
		Residuals:        residuals,
	}

	if tss > 0 {
		result.RSquared = 1 - rss/tss
		result.AdjRSquared = 1 - (1-result.RSquared)*float64(dfTotal)/float64(dfResid)
	}
	if dfModel > 0 && rss > 0 {
		result.FStatistic = ((tss - rss) / float64(dfModel)) / sigma2
		result.FPValue = distuv.F{D1: float64(dfModel), D2: float64(dfResid)}.Survival(result.FStatistic)
	}

	return result, nil
}
