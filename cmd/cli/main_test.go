package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"goabtest/adapters/rng"
	"goabtest/internal"
	"goabtest/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnv(t *testing.T) *env {
	t.Helper()
	cfg := config.Default()
	cfg.Experiment.SampleSize = 5000
	cfg.Experiment.Seed = 7
	var logs bytes.Buffer
	return &env{
		cfg:     cfg,
		logger:  internal.NewLoggerTo(&logs, internal.LogLevelDebug),
		rngPort: rng.NewAdapter(),
	}
}

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_KeepsEnvironmentSampleSettings(t *testing.T) {
	e := newTestEnv(t)

	require.NoError(t, e.loadScenario(writeScenario(t, `{"analysis":{"alpha":0.01}}`)))

	assert.Equal(t, 5000, e.scenario.CUPED.N)
	assert.Equal(t, uint64(7), e.scenario.CUPED.Seed)
	assert.Equal(t, 5000, e.scenario.Regression.N)
	assert.Equal(t, uint64(7), e.scenario.Regression.Seed)
	assert.Equal(t, 0.01, e.cfg.Analysis.Alpha)
}

func TestLoadScenario_FileKeysOverrideEnvironment(t *testing.T) {
	e := newTestEnv(t)

	require.NoError(t, e.loadScenario(writeScenario(t, `{"name":"promo","cuped":{"n":300}}`)))

	assert.Equal(t, "promo", e.scenario.Name)
	assert.Equal(t, 300, e.scenario.CUPED.N)
	assert.Equal(t, uint64(7), e.scenario.CUPED.Seed)
	assert.Equal(t, 5000, e.scenario.Regression.N)
	assert.Equal(t, config.DefaultAlpha, e.cfg.Analysis.Alpha)
}

func TestLoadScenario_NoFile(t *testing.T) {
	e := newTestEnv(t)

	require.NoError(t, e.loadScenario(""))
	assert.Equal(t, "default", e.scenario.Name)
	assert.Equal(t, 5000, e.scenario.CUPED.N)
}

func TestLoadScenario_InvalidFile(t *testing.T) {
	e := newTestEnv(t)

	assert.Error(t, e.loadScenario(writeScenario(t, `{"cuped":{"n":"many"}}`)))
	assert.Error(t, e.loadScenario(filepath.Join(t.TempDir(), "missing.json")))
}

func runRegress(t *testing.T, args ...string) float64 {
	t.Helper()
	e := newTestEnv(t)
	e.cfg.Experiment.SampleSize = 1000

	var out bytes.Buffer
	cmd := newRootCmd(e)
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{"regress", "--json"}, args...))
	require.NoError(t, cmd.Execute())

	var result struct {
		Alpha float64 `json:"alpha"`
		N     int     `json:"n"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Equal(t, 1000, result.N)
	return result.Alpha
}

func TestRegressCmd_Alpha(t *testing.T) {
	path := writeScenario(t, `{"analysis":{"alpha":0.01}}`)

	assert.Equal(t, config.DefaultAlpha, runRegress(t))
	assert.Equal(t, 0.01, runRegress(t, "--scenario", path))
	assert.Equal(t, 0.1, runRegress(t, "--scenario", path, "--alpha", "0.1"))
}
