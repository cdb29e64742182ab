package simulate

import (
	"context"
	"fmt"
	"math"

	"goabtest/domain/dataset"
	"goabtest/internal/errors"
	"goabtest/ports"

	"gonum.org/v1/gonum/stat/distuv"
)

// CUPEDConfig configures the pre/post experiment generator
type CUPEDConfig struct {
	N               int     `json:"n"`
	PreMean         float64 `json:"pre_mean"`
	PreStdDev       float64 `json:"pre_std_dev"`
	Slope           float64 `json:"slope"`
	NoiseStdDev     float64 `json:"noise_std_dev"`
	TreatmentEffect float64 `json:"treatment_effect"`
	TreatmentRate   float64 `json:"treatment_rate"`
	Seed            uint64  `json:"seed"`
}

// DefaultCUPEDConfig mirrors the illustrative run: 1000 users whose
// post-period metric tracks the pre-period metric plus noise and a small lift.
func DefaultCUPEDConfig() CUPEDConfig {
	return CUPEDConfig{
		N:               1000,
		PreMean:         50,
		PreStdDev:       10,
		Slope:           1,
		NoiseStdDev:     5,
		TreatmentEffect: 1,
		TreatmentRate:   0.5,
		Seed:            42,
	}
}

// Validate checks the configuration
func (c CUPEDConfig) Validate() error {
	if c.N < 2 {
		return errors.InvalidInput(fmt.Sprintf("sample size must be at least 2, got %d", c.N))
	}
	if c.PreStdDev < 0 || c.NoiseStdDev < 0 {
		return errors.InvalidInput("standard deviations must be non-negative")
	}
	if c.TreatmentRate <= 0 || c.TreatmentRate >= 1 {
		return errors.InvalidInput(fmt.Sprintf("treatment rate must be in (0, 1), got %v", c.TreatmentRate))
	}
	return nil
}

// CUPEDGenerator draws X ~ N(PreMean, PreStdDev), T ~ Bernoulli(TreatmentRate)
// and Y = Slope·X + TreatmentEffect·T + N(0, NoiseStdDev).
type CUPEDGenerator struct {
	config  CUPEDConfig
	rngPort ports.RNGPort
}

// NewCUPEDGenerator creates a generator drawing from the given RNG port
func NewCUPEDGenerator(config CUPEDConfig, rngPort ports.RNGPort) *CUPEDGenerator {
	return &CUPEDGenerator{config: config, rngPort: rngPort}
}

// Config returns the generator configuration
func (g *CUPEDGenerator) Config() CUPEDConfig {
	return g.config
}

// LoadDataset implements ports.DatasetSource
func (g *CUPEDGenerator) LoadDataset(ctx context.Context) (*dataset.Dataset, error) {
	return g.Generate(ctx)
}

// Generate draws a fresh dataset. The same seed always yields the same data.
func (g *CUPEDGenerator) Generate(ctx context.Context) (*dataset.Dataset, error) {
	cfg := g.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	src, err := g.rngPort.SeededStream(ctx, "simulate.cuped", cfg.Seed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create random stream")
	}

	pre := distuv.Normal{Mu: cfg.PreMean, Sigma: cfg.PreStdDev, Src: src}
	noise := distuv.Normal{Mu: 0, Sigma: cfg.NoiseStdDev, Src: src}
	assign := distuv.Bernoulli{P: cfg.TreatmentRate, Src: src}

	observations := make([]dataset.Observation, cfg.N)
	for i := range observations {
		x := pre.Rand()
		t := assign.Rand()
		observations[i] = dataset.Observation{
			Pre:       x,
			Post:      cfg.Slope*x + cfg.TreatmentEffect*t + noise.Rand(),
			Treatment: int(t),
		}
	}

	name := fmt.Sprintf("simulated_cuped_n%d_seed%d", cfg.N, cfg.Seed)
	return dataset.New(name, "simulated", observations), nil
}

// RegressionConfig configures the causal-inference sample generator
type RegressionConfig struct {
	N                  int     `json:"n"`
	TreatmentRate      float64 `json:"treatment_rate"`
	BaseRevenue        float64 `json:"base_revenue"`
	RevenueLift        float64 `json:"revenue_lift"`
	RevenueNoise       float64 `json:"revenue_noise"`
	BaselineConversion float64 `json:"baseline_conversion"`
	ConversionLift     float64 `json:"conversion_lift"` // additive on the log-odds scale
	Seed               uint64  `json:"seed"`
}

// DefaultRegressionConfig returns defaults for the regression walkthrough
func DefaultRegressionConfig() RegressionConfig {
	return RegressionConfig{
		N:                  1000,
		TreatmentRate:      0.5,
		BaseRevenue:        20,
		RevenueLift:        5,
		RevenueNoise:       10,
		BaselineConversion: 0.1,
		ConversionLift:     0.5,
		Seed:               42,
	}
}

// Validate checks the configuration
func (c RegressionConfig) Validate() error {
	if c.N < 10 {
		return errors.InvalidInput(fmt.Sprintf("sample size must be at least 10, got %d", c.N))
	}
	if c.TreatmentRate <= 0 || c.TreatmentRate >= 1 {
		return errors.InvalidInput(fmt.Sprintf("treatment rate must be in (0, 1), got %v", c.TreatmentRate))
	}
	if c.BaselineConversion <= 0 || c.BaselineConversion >= 1 {
		return errors.InvalidInput(fmt.Sprintf("baseline conversion must be in (0, 1), got %v", c.BaselineConversion))
	}
	if c.RevenueNoise < 0 {
		return errors.InvalidInput("revenue noise must be non-negative")
	}
	return nil
}

// Covariate effects used by the regression generator
const (
	ageMean            = 35.0
	ageStdDev          = 10.0
	minAge             = 18.0
	maxAge             = 80.0
	engagementShape    = 2.0
	engagementRate     = 0.5
	revenuePerYear     = 0.3
	revenuePerEngage   = 2.0
	logOddsPerYear     = 0.02
	logOddsPerEngage   = 0.15
	engagementMeanDraw = engagementShape / engagementRate
)

// RegressionGenerator simulates users with age and engagement covariates, a
// randomised treatment, a continuous revenue outcome and a binary conversion
// outcome drawn through a logistic link.
type RegressionGenerator struct {
	config  RegressionConfig
	rngPort ports.RNGPort
}

// NewRegressionGenerator creates a generator drawing from the given RNG port
func NewRegressionGenerator(config RegressionConfig, rngPort ports.RNGPort) *RegressionGenerator {
	return &RegressionGenerator{config: config, rngPort: rngPort}
}

// LoadRegressionSample implements ports.RegressionSource
func (g *RegressionGenerator) LoadRegressionSample(ctx context.Context) (*dataset.RegressionSample, error) {
	return g.Generate(ctx)
}

// Generate draws a fresh sample
func (g *RegressionGenerator) Generate(ctx context.Context) (*dataset.RegressionSample, error) {
	cfg := g.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	src, err := g.rngPort.SeededStream(ctx, "simulate.regression", cfg.Seed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create random stream")
	}

	age := distuv.Normal{Mu: ageMean, Sigma: ageStdDev, Src: src}
	engagement := distuv.Gamma{Alpha: engagementShape, Beta: engagementRate, Src: src}
	noise := distuv.Normal{Mu: 0, Sigma: cfg.RevenueNoise, Src: src}
	assign := distuv.Bernoulli{P: cfg.TreatmentRate, Src: src}

	baseLogOdds := math.Log(cfg.BaselineConversion / (1 - cfg.BaselineConversion))

	sample := &dataset.RegressionSample{
		Treatment:  make([]float64, cfg.N),
		Age:        make([]float64, cfg.N),
		Engagement: make([]float64, cfg.N),
		Revenue:    make([]float64, cfg.N),
		Converted:  make([]float64, cfg.N),
	}
	for i := 0; i < cfg.N; i++ {
		a := math.Min(math.Max(age.Rand(), minAge), maxAge)
		e := engagement.Rand()
		t := assign.Rand()

		sample.Treatment[i] = t
		sample.Age[i] = a
		sample.Engagement[i] = e
		sample.Revenue[i] = cfg.BaseRevenue +
			revenuePerYear*(a-ageMean) +
			revenuePerEngage*e +
			cfg.RevenueLift*t +
			noise.Rand()

		logOdds := baseLogOdds +
			cfg.ConversionLift*t +
			logOddsPerYear*(a-ageMean) +
			logOddsPerEngage*(e-engagementMeanDraw)
		if src.Float64() < 1/(1+math.Exp(-logOdds)) {
			sample.Converted[i] = 1
		}
	}

	return sample, nil
}
