// Package scenario reads JSON scenario files that override the simulation
// and analysis defaults. Only keys present in the file are applied:
//
//	{
//	  "name": "holiday-promo",
//	  "cuped": {"n": 5000, "seed": 7, "treatment_effect": 0.5},
//	  "regression": {"revenue_lift": 3, "conversion_lift": 0.2},
//	  "analysis": {"permutations": 2000, "alpha": 0.01, "fallback": true}
//	}
package scenario

import (
	"fmt"
	"os"

	"goabtest/internal/errors"
	"goabtest/internal/simulate"

	"github.com/tidwall/gjson"
)

// Analysis holds optional analysis overrides. Zero values mean "not set".
type Analysis struct {
	Permutations int     `json:"permutations"`
	Alpha        float64 `json:"alpha"`
	Fallback     *bool   `json:"fallback,omitempty"`
}

// Scenario is a named set of generator and analysis parameters
type Scenario struct {
	Name        string                    `json:"name"`
	Description string                    `json:"description"`
	CUPED       simulate.CUPEDConfig      `json:"cuped"`
	Regression  simulate.RegressionConfig `json:"regression"`
	Analysis    Analysis                  `json:"analysis"`
}

// Default returns a scenario carrying the generator defaults
func Default() *Scenario {
	return &Scenario{
		Name:       "default",
		CUPED:      simulate.DefaultCUPEDConfig(),
		Regression: simulate.DefaultRegressionConfig(),
	}
}

// Load reads and parses a scenario file on top of Default
func Load(path string) (*Scenario, error) {
	return LoadOnto(Default(), path)
}

// LoadOnto reads a scenario file and applies its keys on top of base
func LoadOnto(base *Scenario, path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IOError("failed to read scenario file", err)
	}
	s, err := ParseOnto(base, data)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid scenario %s", path)
	}
	return s, nil
}

// Parse applies the keys present in data on top of Default
func Parse(data []byte) (*Scenario, error) {
	return ParseOnto(Default(), data)
}

// ParseOnto applies the keys present in data to a copy of base. base is
// left unchanged.
func ParseOnto(base *Scenario, data []byte) (*Scenario, error) {
	if base == nil {
		base = Default()
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.InvalidInput("scenario is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, errors.InvalidInput("scenario must be a JSON object")
	}

	copied := *base
	s := &copied
	if v := root.Get("name"); v.Exists() {
		s.Name = v.String()
	}
	if v := root.Get("description"); v.Exists() {
		s.Description = v.String()
	}

	c := &s.CUPED
	r := &s.Regression
	fields := []struct {
		path   string
		target interface{}
	}{
		{"cuped.n", &c.N},
		{"cuped.pre_mean", &c.PreMean},
		{"cuped.pre_std_dev", &c.PreStdDev},
		{"cuped.slope", &c.Slope},
		{"cuped.noise_std_dev", &c.NoiseStdDev},
		{"cuped.treatment_effect", &c.TreatmentEffect},
		{"cuped.treatment_rate", &c.TreatmentRate},
		{"cuped.seed", &c.Seed},
		{"regression.n", &r.N},
		{"regression.treatment_rate", &r.TreatmentRate},
		{"regression.base_revenue", &r.BaseRevenue},
		{"regression.revenue_lift", &r.RevenueLift},
		{"regression.revenue_noise", &r.RevenueNoise},
		{"regression.baseline_conversion", &r.BaselineConversion},
		{"regression.conversion_lift", &r.ConversionLift},
		{"regression.seed", &r.Seed},
		{"analysis.permutations", &s.Analysis.Permutations},
		{"analysis.alpha", &s.Analysis.Alpha},
	}
	for _, f := range fields {
		if err := assign(root.Get(f.path), f.path, f.target); err != nil {
			return nil, err
		}
	}

	if v := root.Get("analysis.fallback"); v.Exists() {
		if v.Type != gjson.True && v.Type != gjson.False {
			return nil, errors.InvalidInput(fmt.Sprintf("%s must be a boolean, got %s", "analysis.fallback", v.Raw))
		}
		fallback := v.Bool()
		s.Analysis.Fallback = &fallback
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks both generator configurations and the analysis overrides
func (s *Scenario) Validate() error {
	if err := s.CUPED.Validate(); err != nil {
		return errors.Wrap(err, "cuped")
	}
	if err := s.Regression.Validate(); err != nil {
		return errors.Wrap(err, "regression")
	}
	if s.Analysis.Permutations < 0 {
		return errors.InvalidInput("analysis.permutations must be non-negative")
	}
	if s.Analysis.Alpha < 0 || s.Analysis.Alpha >= 1 {
		return errors.InvalidInput(fmt.Sprintf("analysis.alpha must be in (0, 1), got %v", s.Analysis.Alpha))
	}
	return nil
}

func assign(v gjson.Result, path string, target interface{}) error {
	if !v.Exists() {
		return nil
	}
	if v.Type != gjson.Number {
		return errors.InvalidInput(fmt.Sprintf("%s must be a number, got %s", path, v.Raw))
	}

	switch t := target.(type) {
	case *float64:
		*t = v.Float()
	case *int:
		if v.Float() != float64(v.Int()) {
			return errors.InvalidInput(fmt.Sprintf("%s must be an integer, got %s", path, v.Raw))
		}
		*t = int(v.Int())
	case *uint64:
		if v.Float() < 0 || v.Float() != float64(v.Uint()) {
			return errors.InvalidInput(fmt.Sprintf("%s must be a non-negative integer, got %s", path, v.Raw))
		}
		*t = v.Uint()
	default:
		return errors.InternalError(fmt.Sprintf("unsupported target for %s", path))
	}
	return nil
}
