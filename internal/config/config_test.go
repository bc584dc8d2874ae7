package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/gridworld-simulator/internal/sim/state"
	"github.com/signalsfoundry/gridworld-simulator/timectrl"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Second, cfg.Tick)
	assert.Equal(t, timectrl.RealTime, cfg.Mode())
	assert.Equal(t, state.SurgePersist, cfg.Policy())
	assert.Empty(t, cfg.Topology)
}

func TestFromLookupOverlaysEnvironment(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		EnvHTTPAddr:            "127.0.0.1:9000",
		EnvTopology:            "configs/topology.yaml",
		EnvTick:                "250ms",
		EnvTimeMode:            "accelerated",
		EnvSpeed:               "20",
		EnvSupplyPool:          "1500",
		EnvSurgePolicy:         "decay",
		EnvSurgeDecay:          "0.5",
		EnvManualStep:          "true",
		EnvLogFormat:           "json",
		"GRID_TRACING_ENABLED": "true",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.MetricsAddr, "unset keys keep defaults")
	assert.Equal(t, "configs/topology.yaml", cfg.Topology)
	assert.Equal(t, 250*time.Millisecond, cfg.Tick)
	assert.Equal(t, timectrl.Accelerated, cfg.Mode())
	assert.Equal(t, 20.0, cfg.Speed)
	assert.Equal(t, 1500.0, cfg.SupplyPool)
	assert.Equal(t, state.SurgeDecay, cfg.Policy())
	assert.True(t, cfg.ManualStep)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Len(t, cfg.WorldOptions(), 3)
}

func TestFromLookupReportsParseErrors(t *testing.T) {
	_, err := FromLookup(lookupFrom(map[string]string{
		EnvTick:       "soon",
		EnvSupplyPool: "plenty",
		EnvManualStep: "maybe",
	}))
	require.ErrorIs(t, err, ErrInvalidConfig)
	for _, key := range []string{EnvTick, EnvSupplyPool, EnvManualStep} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"zero tick":      func(c *Config) { c.Tick = 0 },
		"unknown mode":   func(c *Config) { c.TimeMode = "warp" },
		"zero speed":     func(c *Config) { c.TimeMode = "accelerated"; c.Speed = 0 },
		"negative pool":  func(c *Config) { c.SupplyPool = -1 },
		"unknown policy": func(c *Config) { c.SurgePolicy = "explode" },
		"decay of one":   func(c *Config) { c.SurgePolicy = "decay"; c.SurgeDecay = 1 },
		"negative max":   func(c *Config) { c.MaxSurge = -1 },
		"no http addr":   func(c *Config) { c.HTTPAddr = " " },
		"log level":      func(c *Config) { c.LogLevel = "trace" },
		"log format":     func(c *Config) { c.LogFormat = "logfmt" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoadReadsEnvFileAndProcessEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("GRID_HTTP_ADDR=:7000\nGRID_TICK=2s\n"), 0o600))

	t.Setenv(EnvTick, "500ms")

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTPAddr)
	assert.Equal(t, 500*time.Millisecond, cfg.Tick)
}

func TestLoadValidates(t *testing.T) {
	t.Setenv(EnvSurgePolicy, "sometimes")
	_, err := Load()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
