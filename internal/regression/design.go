// Package regression fits the linear and logistic models used to estimate a
// treatment effect as the coefficient of the treatment indicator.
package regression

import (
	"fmt"
	"math"
	"strings"

	"goabtest/domain/core"

	"gonum.org/v1/gonum/mat"
)

// InterceptName is the coefficient name of the constant column
const InterceptName = "intercept"

// Design is a response vector plus named regressor columns
type Design struct {
	response  string
	y         []float64
	intercept bool
	names     []string
	columns   [][]float64
}

// NewDesign starts a design for response y, optionally with an intercept column
func NewDesign(y []float64, intercept bool) *Design {
	return &Design{response: "y", y: y, intercept: intercept}
}

// WithResponse names the response variable in formulas and summaries
func (d *Design) WithResponse(name string) *Design {
	d.response = name
	return d
}

// AddColumn appends a regressor. Its length must match the response.
func (d *Design) AddColumn(name string, values []float64) error {
	if len(values) != len(d.y) {
		return core.NewLengthMismatchError(name, len(values), len(d.y))
	}
	for _, existing := range d.names {
		if existing == name {
			return fmt.Errorf("duplicate regressor %q", name)
		}
	}
	d.names = append(d.names, name)
	d.columns = append(d.columns, values)
	return nil
}

// MustAddColumn is AddColumn for designs built from columns already known to match
func (d *Design) MustAddColumn(name string, values []float64) *Design {
	if err := d.AddColumn(name, values); err != nil {
		panic(err)
	}
	return d
}

// N returns the number of observations
func (d *Design) N() int {
	return len(d.y)
}

// P returns the number of coefficients, including the intercept
func (d *Design) P() int {
	if d.intercept {
		return len(d.columns) + 1
	}
	return len(d.columns)
}

// Names returns coefficient names in matrix column order
func (d *Design) Names() []string {
	names := make([]string, 0, d.P())
	if d.intercept {
		names = append(names, InterceptName)
	}
	return append(names, d.names...)
}

// Formula renders the design like "revenue ~ treatment + age"
func (d *Design) Formula() string {
	terms := d.names
	if len(terms) == 0 {
		return d.response + " ~ 1"
	}
	formula := d.response + " ~ " + strings.Join(terms, " + ")
	if !d.intercept {
		formula += " - 1"
	}
	return formula
}

// matrices builds the n×p design matrix and the response vector
func (d *Design) matrices() (*mat.Dense, *mat.VecDense, error) {
	n, p := d.N(), d.P()
	if p == 0 {
		return nil, nil, fmt.Errorf("%w: design has no regressors", core.ErrInsufficientData)
	}
	if n <= p {
		return nil, nil, core.NewInsufficientDataError("design", n, p+1)
	}

	data := make([]float64, 0, n*p)
	for i := 0; i < n; i++ {
		if d.intercept {
			data = append(data, 1)
		}
		for _, col := range d.columns {
			data = append(data, col[i])
		}
	}
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, core.NewDegenerateInputError(fmt.Sprintf("non-finite regressor at row %d", i/p))
		}
	}
	for i, v := range d.y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, core.NewDegenerateInputError(fmt.Sprintf("non-finite response at row %d", i))
		}
	}

	return mat.NewDense(n, p, data), mat.NewVecDense(n, append([]float64(nil), d.y...)), nil
}

// Coefficient is one fitted parameter with its inference
type Coefficient struct {
	Name      string  `json:"name"`
	Estimate  float64 `json:"estimate"`
	StdError  float64 `json:"std_error"`
	Statistic float64 `json:"statistic"` // t for OLS, z for logistic
	PValue    float64 `json:"p_value"`
	CILower   float64 `json:"ci_lower"`
	CIUpper   float64 `json:"ci_upper"`
}

func findCoefficient(coefs []Coefficient, name string) (Coefficient, bool) {
	for _, c := range coefs {
		if c.Name == name {
			return c, true
		}
	}
	return Coefficient{}, false
}

func writeCoefficientTable(b *strings.Builder, coefs []Coefficient, statName string) {
	fmt.Fprintf(b, "%-14s %12s %12s %10s %10s %12s %12s\n", "", "coef", "std err", statName, "P>|"+statName+"|", "[0.025", "0.975]")
	for _, c := range coefs {
		fmt.Fprintf(b, "%-14s %12.4f %12.4f %10.3f %10.4f %12.4f %12.4f\n",
			c.Name, c.Estimate, c.StdError, c.Statistic, c.PValue, c.CILower, c.CIUpper)
	}
}
