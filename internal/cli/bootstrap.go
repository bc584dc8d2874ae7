package cli

import (
	"context"

	"github.com/signalsfoundry/gridworld-simulator/core"
	"github.com/signalsfoundry/gridworld-simulator/internal/config"
	"github.com/signalsfoundry/gridworld-simulator/internal/logging"
	"github.com/signalsfoundry/gridworld-simulator/internal/sim/state"
	"github.com/signalsfoundry/gridworld-simulator/kb"
)

// loadRegistry builds the static topology from path, or the demo ring when
// path is empty. Any inconsistency is fatal.
func loadRegistry(path string) (*kb.Registry, *core.TopologySummary, error) {
	reg := kb.NewRegistry()
	if path == "" {
		topo := core.DemoTopology()
		if err := reg.LoadTopology(topo); err != nil {
			return nil, nil, err
		}
		return reg, core.Summarize(topo), nil
	}
	summary, err := core.LoadTopologyFile(reg, path)
	if err != nil {
		return nil, nil, err
	}
	return reg, summary, nil
}

// buildWorld bootstraps the registry and constructs the live world.
func buildWorld(ctx context.Context, cfg config.Config, log logging.Logger, extra ...state.Option) (*state.World, error) {
	reg, summary, err := loadRegistry(cfg.Topology)
	if err != nil {
		return nil, err
	}
	world, err := state.NewWorld(reg, log, append(cfg.WorldOptions(), extra...)...)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "topology loaded",
		logging.String("name", summary.Name),
		logging.Int("nodes", len(summary.NodeIDs)),
		logging.Int("segments", len(summary.Segments)),
		logging.Float64("supply_pool", world.SupplyPool()),
		logging.String("surge_policy", cfg.SurgePolicy),
	)
	return world, nil
}
