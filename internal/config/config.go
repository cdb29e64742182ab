package config

import (
	"fmt"
	"os"
	"strconv"

	"goabtest/internal"
	"goabtest/internal/cuped"
	"goabtest/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Experiment ExperimentConfig
	Analysis   AnalysisConfig
	Paths      PathConfig
	LogLevel   internal.LogLevel
}

// ExperimentConfig holds simulation settings
type ExperimentConfig struct {
	SampleSize int
	Seed       uint64
}

// AnalysisConfig holds analysis settings
type AnalysisConfig struct {
	Permutations int // 0 disables the permutation test
	Workers      int
	Alpha        float64
	Fallback     bool // analyse the raw metric when CUPED cannot be applied
	Convention   cuped.Convention
}

// PathConfig holds file system paths
type PathConfig struct {
	DataFile     string
	ScenarioFile string
}

// Environment keys
const (
	EnvSampleSize   = "ABTEST_SAMPLE_SIZE"
	EnvSeed         = "ABTEST_SEED"
	EnvPermutations = "ABTEST_PERMUTATIONS"
	EnvWorkers      = "ABTEST_WORKERS"
	EnvAlpha        = "ABTEST_ALPHA"
	EnvFallback     = "ABTEST_FALLBACK"
	EnvCovariance   = "ABTEST_COVARIANCE"
	EnvDataFile     = "ABTEST_DATA_FILE"
	EnvScenarioFile = "ABTEST_SCENARIO_FILE"
	EnvLogLevel     = "LOG_LEVEL"
)

// Defaults
const (
	DefaultSampleSize = 1000
	DefaultSeed       = 42
	DefaultWorkers    = 4
	DefaultAlpha      = 0.05
)

// Load reads configuration from environment variables and validates it.
// Unset keys take their defaults; malformed values are an error.
func Load() (*Config, error) {
	config := &Config{}

	experimentConfig, err := loadExperimentConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load experiment configuration")
	}
	config.Experiment = *experimentConfig

	analysisConfig, err := loadAnalysisConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load analysis configuration")
	}
	config.Analysis = *analysisConfig

	config.Paths = *loadPathConfig()
	config.LogLevel = internal.ParseLogLevel(os.Getenv(EnvLogLevel))

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

// Default returns the configuration used when no environment is set
func Default() *Config {
	return &Config{
		Experiment: ExperimentConfig{SampleSize: DefaultSampleSize, Seed: DefaultSeed},
		Analysis: AnalysisConfig{
			Workers:    DefaultWorkers,
			Alpha:      DefaultAlpha,
			Convention: cuped.ConventionPopulation,
		},
		LogLevel: internal.LogLevelInfo,
	}
}

func loadExperimentConfig() (*ExperimentConfig, error) {
	n, err := getEnvInt(EnvSampleSize, DefaultSampleSize)
	if err != nil {
		return nil, err
	}
	seed, err := getEnvUint(EnvSeed, DefaultSeed)
	if err != nil {
		return nil, err
	}
	return &ExperimentConfig{SampleSize: n, Seed: seed}, nil
}

func loadAnalysisConfig() (*AnalysisConfig, error) {
	permutations, err := getEnvInt(EnvPermutations, 0)
	if err != nil {
		return nil, err
	}
	workers, err := getEnvInt(EnvWorkers, DefaultWorkers)
	if err != nil {
		return nil, err
	}
	alpha, err := getEnvFloat(EnvAlpha, DefaultAlpha)
	if err != nil {
		return nil, err
	}
	fallback, err := getEnvBool(EnvFallback, false)
	if err != nil {
		return nil, err
	}
	convention, err := cuped.ParseConvention(os.Getenv(EnvCovariance))
	if err != nil {
		return nil, errors.ConfigInvalid(fmt.Sprintf("%s: %v", EnvCovariance, err))
	}

	return &AnalysisConfig{
		Permutations: permutations,
		Workers:      workers,
		Alpha:        alpha,
		Fallback:     fallback,
		Convention:   convention,
	}, nil
}

func loadPathConfig() *PathConfig {
	return &PathConfig{
		DataFile:     getEnvOrDefault(EnvDataFile, ""),
		ScenarioFile: getEnvOrDefault(EnvScenarioFile, ""),
	}
}

func validateConfig(config *Config) error {
	if config.Experiment.SampleSize < 2 {
		return errors.ConfigInvalid(fmt.Sprintf("%s must be at least 2", EnvSampleSize))
	}
	if config.Analysis.Permutations < 0 {
		return errors.ConfigInvalid(fmt.Sprintf("%s must be non-negative", EnvPermutations))
	}
	if config.Analysis.Workers < 1 {
		return errors.ConfigInvalid(fmt.Sprintf("%s must be at least 1", EnvWorkers))
	}
	if config.Analysis.Alpha <= 0 || config.Analysis.Alpha >= 1 {
		return errors.ConfigInvalid(fmt.Sprintf("%s must be in (0, 1)", EnvAlpha))
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.ConfigInvalid(fmt.Sprintf("%s must be an integer, got %q", key, value))
	}
	return intValue, nil
}

func getEnvUint(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	uintValue, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, errors.ConfigInvalid(fmt.Sprintf("%s must be a non-negative integer, got %q", key, value))
	}
	return uintValue, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, errors.ConfigInvalid(fmt.Sprintf("%s must be a number, got %q", key, value))
	}
	return floatValue, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return false, errors.ConfigInvalid(fmt.Sprintf("%s must be a boolean, got %q", key, value))
	}
	return boolValue, nil
}
