// Package config resolves simulator settings from defaults, .env files and
// the process environment. Command-line flags are layered on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/signalsfoundry/gridworld-simulator/internal/logging"
	"github.com/signalsfoundry/gridworld-simulator/internal/observability"
	"github.com/signalsfoundry/gridworld-simulator/internal/sim/state"
	"github.com/signalsfoundry/gridworld-simulator/timectrl"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Environment variables read by FromLookup.
const (
	EnvHTTPAddr    = "GRID_HTTP_ADDR"
	EnvGRPCAddr    = "GRID_GRPC_ADDR"
	EnvMetricsAddr = "GRID_METRICS_ADDR"
	EnvTopology    = "GRID_TOPOLOGY"
	EnvTick        = "GRID_TICK"
	EnvTimeMode    = "GRID_TIME_MODE"
	EnvSpeed       = "GRID_SPEED"
	EnvSupplyPool  = "GRID_SUPPLY_POOL"
	EnvSurgePolicy = "GRID_SURGE_POLICY"
	EnvSurgeDecay  = "GRID_SURGE_DECAY"
	EnvMaxSurge    = "GRID_MAX_SURGE"
	EnvManualStep  = "GRID_MANUAL_STEP"
	EnvLogLevel    = "LOG_LEVEL"
	EnvLogFormat   = "LOG_FORMAT"
)

// Config is the full set of runtime settings.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	// Topology is a YAML/JSON topology path; empty selects the demo ring.
	Topology string

	Tick     time.Duration
	TimeMode string
	Speed    float64

	SupplyPool  float64
	SurgePolicy string
	SurgeDecay  float64
	MaxSurge    float64
	ManualStep  bool

	LogLevel  string
	LogFormat string

	Tracing observability.TracingConfig
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		Tick:        time.Second,
		TimeMode:    timectrl.RealTime.String(),
		Speed:       timectrl.DefaultSpeed,
		SurgePolicy: state.SurgePersist.String(),
		SurgeDecay:  0.9,
		MaxSurge:    state.DefaultMaxSurgeFraction,
		LogLevel:    "info",
		LogFormat:   "text",
		Tracing:     observability.TracingConfig{Exporter: observability.ExporterStdout, ServiceName: observability.DefaultServiceName, SampleRatio: 1},
	}
}

// Load reads envFiles (missing files are skipped), overlays the process
// environment and returns the validated result. Process environment wins
// over file values.
func Load(envFiles ...string) (Config, error) {
	fileEnv := map[string]string{}
	for _, path := range envFiles {
		if path == "" {
			continue
		}
		vals, err := godotenv.Read(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("read env file %s: %w", path, err)
		}
		for k, v := range vals {
			fileEnv[k] = v
		}
	}
	cfg, err := FromLookup(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	})
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// FromLookup overlays values from lookup onto Default. It reports parse
// errors but does not call Validate.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	for key, dst := range map[string]*string{
		EnvHTTPAddr:    &cfg.HTTPAddr,
		EnvGRPCAddr:    &cfg.GRPCAddr,
		EnvMetricsAddr: &cfg.MetricsAddr,
		EnvTopology:    &cfg.Topology,
		EnvTimeMode:    &cfg.TimeMode,
		EnvSurgePolicy: &cfg.SurgePolicy,
		EnvLogLevel:    &cfg.LogLevel,
		EnvLogFormat:   &cfg.LogFormat,
	} {
		if v, ok := get(key); ok {
			*dst = v
		}
	}

	var errs []error
	if v, ok := get(EnvTick); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvTick, err))
		}
		cfg.Tick = d
	}
	for key, dst := range map[string]*float64{
		EnvSpeed:      &cfg.Speed,
		EnvSupplyPool: &cfg.SupplyPool,
		EnvSurgeDecay: &cfg.SurgeDecay,
		EnvMaxSurge:   &cfg.MaxSurge,
	} {
		if v, ok := get(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			*dst = f
		}
	}
	if v, ok := get(EnvManualStep); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvManualStep, err))
		}
		cfg.ManualStep = b
	}

	cfg.Tracing = observability.TracingConfigFromLookup(lookup)

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	if c.Tick <= 0 {
		errs = append(errs, fmt.Errorf("tick must be positive, got %s", c.Tick))
	}
	mode, err := timectrl.ParseMode(c.TimeMode)
	if err != nil {
		errs = append(errs, err)
	}
	if mode == timectrl.Accelerated && c.Speed <= 0 {
		errs = append(errs, fmt.Errorf("speed must be positive, got %v", c.Speed))
	}
	if c.SupplyPool < 0 {
		errs = append(errs, fmt.Errorf("supply pool must be non-negative, got %v", c.SupplyPool))
	}
	policy, err := state.ParseSurgePolicy(c.SurgePolicy)
	if err != nil {
		errs = append(errs, err)
	}
	if policy == state.SurgeDecay && (c.SurgeDecay < 0 || c.SurgeDecay >= 1) {
		errs = append(errs, fmt.Errorf("surge decay must be within [0,1), got %v", c.SurgeDecay))
	}
	if c.MaxSurge < 0 {
		errs = append(errs, fmt.Errorf("max surge must be non-negative, got %v", c.MaxSurge))
	}
	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := (logging.Config{Level: c.LogLevel, Format: c.LogFormat}).Validate(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Mode returns the parsed time mode. Call Validate first.
func (c Config) Mode() timectrl.Mode {
	m, _ := timectrl.ParseMode(c.TimeMode)
	return m
}

// Policy returns the parsed surge policy. Call Validate first.
func (c Config) Policy() state.SurgePolicy {
	p, _ := state.ParseSurgePolicy(c.SurgePolicy)
	return p
}

// WorldOptions translates the config into state.World options.
func (c Config) WorldOptions() []state.Option {
	opts := []state.Option{
		state.WithSurgePolicy(c.Policy(), c.SurgeDecay),
		state.WithMaxSurgeFraction(c.MaxSurge),
	}
	if c.SupplyPool > 0 {
		opts = append(opts, state.WithSupplyPool(c.SupplyPool))
	}
	return opts
}
