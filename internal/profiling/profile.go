package profiling

import (
	"fmt"
	"math"

	"goabtest/domain/core"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"
)

// MetricProfile summarises the shape of one metric column. Heavy tails and
// outliers inflate variance, which is what CUPED is trying to remove.
type MetricProfile struct {
	Name     string  `json:"name"`
	N        int     `json:"n"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std_dev"`
	Min      float64 `json:"min"`
	Q25      float64 `json:"q25"`
	Median   float64 `json:"median"`
	Q75      float64 `json:"q75"`
	Max      float64 `json:"max"`
	Skewness float64 `json:"skewness"`
	Kurtosis float64 `json:"kurtosis"` // total, 3 for a normal distribution
	Outliers int     `json:"outliers"` // outside 1.5 IQR of the quartiles

	// Jarque-Bera test against normality
	JarqueBera  float64 `json:"jarque_bera"`
	NormalityP  float64 `json:"normality_p"`
	LooksNormal bool    `json:"looks_normal"`
}

// Profile computes summary statistics and distribution shape for data
func Profile(name string, data []float64) (*MetricProfile, error) {
	if len(data) < 4 {
		return nil, core.NewInsufficientDataError(name, len(data), 4)
	}
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, core.NewDegenerateInputError(fmt.Sprintf("%s has non-finite value at index %d", name, i))
		}
	}

	p := &MetricProfile{Name: name, N: len(data)}

	var err error
	if p.Mean, err = stats.Mean(data); err != nil {
		return nil, err
	}
	if p.StdDev, err = stats.StandardDeviationSample(data); err != nil {
		return nil, err
	}
	if p.Min, err = stats.Min(data); err != nil {
		return nil, err
	}
	if p.Max, err = stats.Max(data); err != nil {
		return nil, err
	}
	if p.Median, err = stats.Median(data); err != nil {
		return nil, err
	}
	quartiles, err := stats.Quartile(data)
	if err != nil {
		return nil, err
	}
	p.Q25, p.Q75 = quartiles.Q1, quartiles.Q3

	p.Outliers = countOutliers(data, p.Q25, p.Q75)

	if p.StdDev == 0 {
		return p, nil
	}

	p.Skewness, p.Kurtosis = moments(data, p.Mean)

	// JB = n/6 (S² + (K-3)²/4) is asymptotically χ² with 2 degrees of freedom
	n := float64(p.N)
	excess := p.Kurtosis - 3
	p.JarqueBera = n / 6 * (p.Skewness*p.Skewness + excess*excess/4)
	p.NormalityP = distuv.ChiSquared{K: 2}.Survival(p.JarqueBera)
	p.LooksNormal = p.NormalityP > 0.05

	return p, nil
}

// moments returns the population skewness and total kurtosis
func moments(data []float64, mean float64) (skewness, kurtosis float64) {
	var m2, m3, m4 float64
	for _, x := range data {
		d := x - mean
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
	}
	n := float64(len(data))
	m2 /= n
	m3 /= n
	m4 /= n
	return m3 / math.Pow(m2, 1.5), m4 / (m2 * m2)
}

func countOutliers(data []float64, q25, q75 float64) int {
	iqr := q75 - q25
	lower := q25 - 1.5*iqr
	upper := q75 + 1.5*iqr

	count := 0
	for _, x := range data {
		if x < lower || x > upper {
			count++
		}
	}
	return count
}
