package dataset

import (
	"fmt"

	"goabtest/domain/core"
)

// RegressionSample holds the columns used by the regression-based analysis:
// a treatment indicator, two pre-treatment covariates, a continuous outcome
// and a binary outcome.
type RegressionSample struct {
	Treatment  []float64 `json:"treatment"`
	Age        []float64 `json:"age"`
	Engagement []float64 `json:"engagement"`
	Revenue    []float64 `json:"revenue"`
	Converted  []float64 `json:"converted"`
}

// Len returns the number of units
func (s *RegressionSample) Len() int {
	return len(s.Treatment)
}

// Validate checks that all columns have the same length and that the
// indicator columns are binary.
func (s *RegressionSample) Validate() error {
	n := len(s.Treatment)
	columns := []struct {
		name   string
		values []float64
	}{
		{"age", s.Age},
		{"engagement", s.Engagement},
		{"revenue", s.Revenue},
		{"converted", s.Converted},
	}
	for _, col := range columns {
		if len(col.values) != n {
			return core.NewLengthMismatchError(col.name, len(col.values), n)
		}
	}
	for i, t := range s.Treatment {
		if t != 0 && t != 1 {
			return fmt.Errorf("%w: unit %d has treatment %v", core.ErrInvalidTreatment, i, t)
		}
	}
	for i, c := range s.Converted {
		if c != 0 && c != 1 {
			return fmt.Errorf("%w: unit %d has converted %v", core.ErrInvalidOutcome, i, c)
		}
	}
	return nil
}

// TreatmentIndicators returns the treatment column as ints
func (s *RegressionSample) TreatmentIndicators() []int {
	out := make([]int, len(s.Treatment))
	for i, t := range s.Treatment {
		out[i] = int(t)
	}
	return out
}
