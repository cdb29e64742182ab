package dataset

import (
	"fmt"

	"goabtest/domain/core"
)

// Group labels for the treatment indicator
const (
	Control   = 0
	Treatment = 1
)

// Observation is one experimental unit: its pre-period metric, post-period
// metric and group assignment.
type Observation struct {
	Pre       float64 `json:"pre"`
	Post      float64 `json:"post"`
	Treatment int     `json:"treatment"`
}

// Dataset is an ordered, fixed-size sequence of observations
type Dataset struct {
	ID           core.DatasetID `json:"id"`
	Name         string         `json:"name"`
	Source       string         `json:"source"` // "simulated", "csv", "xlsx"
	Observations []Observation  `json:"observations"`
}

// New creates a dataset with a fresh ID
func New(name, source string, observations []Observation) *Dataset {
	return &Dataset{
		ID:           core.NewDatasetID(),
		Name:         name,
		Source:       source,
		Observations: observations,
	}
}

// FromColumns builds a dataset from parallel pre, post and treatment columns
func FromColumns(name, source string, pre, post []float64, treatment []int) (*Dataset, error) {
	if len(post) != len(pre) {
		return nil, core.NewLengthMismatchError("post", len(post), len(pre))
	}
	if len(treatment) != len(pre) {
		return nil, core.NewLengthMismatchError("treatment", len(treatment), len(pre))
	}

	observations := make([]Observation, len(pre))
	for i := range pre {
		observations[i] = Observation{Pre: pre[i], Post: post[i], Treatment: treatment[i]}
	}

	ds := New(name, source, observations)
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Len returns the number of observations
func (d *Dataset) Len() int {
	return len(d.Observations)
}

// Validate checks that every treatment indicator is 0 or 1
func (d *Dataset) Validate() error {
	for i, obs := range d.Observations {
		if obs.Treatment != Control && obs.Treatment != Treatment {
			return fmt.Errorf("%w: observation %d has treatment %d", core.ErrInvalidTreatment, i, obs.Treatment)
		}
	}
	return nil
}

// PreValues returns the pre-period column
func (d *Dataset) PreValues() []float64 {
	values := make([]float64, len(d.Observations))
	for i, obs := range d.Observations {
		values[i] = obs.Pre
	}
	return values
}

// PostValues returns the post-period column
func (d *Dataset) PostValues() []float64 {
	values := make([]float64, len(d.Observations))
	for i, obs := range d.Observations {
		values[i] = obs.Post
	}
	return values
}

// Treatments returns the treatment indicator column
func (d *Dataset) Treatments() []int {
	values := make([]int, len(d.Observations))
	for i, obs := range d.Observations {
		values[i] = obs.Treatment
	}
	return values
}

// GroupSizes returns the number of control and treatment observations
func (d *Dataset) GroupSizes() (control, treatment int) {
	for _, obs := range d.Observations {
		if obs.Treatment == Treatment {
			treatment++
		} else {
			control++
		}
	}
	return control, treatment
}

// Fingerprint hashes the dataset contents
func (d *Dataset) Fingerprint() core.Hash {
	groups := make([]float64, len(d.Observations))
	for i, obs := range d.Observations {
		groups[i] = float64(obs.Treatment)
	}
	return core.ComputeColumnsHash(d.PreValues(), d.PostValues(), groups)
}

// Split partitions a per-observation column into control and treatment
// slices, preserving order within each group.
func (d *Dataset) Split(values []float64) (control, treatment []float64, err error) {
	return SplitByTreatment(values, d.Treatments())
}

// SplitByTreatment partitions values by a parallel 0/1 indicator column
func SplitByTreatment(values []float64, treatments []int) (control, treatment []float64, err error) {
	if len(values) != len(treatments) {
		return nil, nil, core.NewLengthMismatchError("values", len(values), len(treatments))
	}

	control = make([]float64, 0, len(values)/2)
	treatment = make([]float64, 0, len(values)/2)
	for i, v := range values {
		switch treatments[i] {
		case Control:
			control = append(control, v)
		case Treatment:
			treatment = append(treatment, v)
		default:
			return nil, nil, fmt.Errorf("%w: index %d has treatment %d", core.ErrInvalidTreatment, i, treatments[i])
		}
	}
	return control, treatment, nil
}
