package cli

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/signalsfoundry/gridworld-simulator/internal/config"
)

// worldFlags are the simulation settings shared by serve and simulate.
type worldFlags struct {
	topology    string
	tick        time.Duration
	supplyPool  float64
	surgePolicy string
	surgeDecay  float64
	maxSurge    float64
}

func (f *worldFlags) register(fs *pflag.FlagSet) {
	d := config.Default()
	fs.StringVarP(&f.topology, "topology", "t", "", "Topology YAML/JSON file (default: GRID_TOPOLOGY or the built-in demo ring)")
	fs.DurationVar(&f.tick, "tick", d.Tick, "Simulated time per step")
	fs.Float64Var(&f.supplyPool, "supply-pool", 0, "Aggregate supply per tick (0 means sum of capacities)")
	fs.StringVar(&f.surgePolicy, "surge-policy", d.SurgePolicy, "Surge lifecycle: persist or decay")
	fs.Float64Var(&f.surgeDecay, "surge-decay", d.SurgeDecay, "Per-tick surge multiplier under the decay policy, in [0,1)")
	fs.Float64Var(&f.maxSurge, "max-surge", d.MaxSurge, "Largest accepted surge fraction")
}

// apply overlays flags the user actually set.
func (f *worldFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("topology") {
		cfg.Topology = f.topology
	}
	if fs.Changed("tick") {
		cfg.Tick = f.tick
	}
	if fs.Changed("supply-pool") {
		cfg.SupplyPool = f.supplyPool
	}
	if fs.Changed("surge-policy") {
		cfg.SurgePolicy = f.surgePolicy
	}
	if fs.Changed("surge-decay") {
		cfg.SurgeDecay = f.surgeDecay
	}
	if fs.Changed("max-surge") {
		cfg.MaxSurge = f.maxSurge
	}
}
