package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/gridworld-simulator/internal/api"
	"github.com/signalsfoundry/gridworld-simulator/internal/config"
	"github.com/signalsfoundry/gridworld-simulator/internal/logging"
	"github.com/signalsfoundry/gridworld-simulator/internal/sim/state"
)

type simulateFlags struct {
	world  worldFlags
	steps  int
	surges []string
	faults []string
	output string
}

// scriptedSurge is a --surge value: node=fraction applied before step At.
type scriptedSurge struct {
	Node     string
	Fraction float64
	At       int
}

// scriptedFault is a --fault value: segment applied before step At.
type scriptedFault struct {
	Segment string
	At      int
}

func newSimulateCommand(root *rootOptions) *cobra.Command {
	f := &simulateFlags{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Step the world headlessly and print the final snapshot",
		Example: `  gridworld simulate --steps 10 --surge transit_hub=0.5 --fault segA@3
  gridworld simulate -t configs/topology.yaml --steps 60 -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			f.world.apply(cmd.Flags(), &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			surges, err := parseSurges(f.surges)
			if err != nil {
				return err
			}
			faults, err := parseFaults(f.faults)
			if err != nil {
				return err
			}
			log := newLogger(cfg, cmd.ErrOrStderr())
			return runSimulation(cmd.Context(), cfg, log, simulation{
				Steps:  f.steps,
				Surges: surges,
				Faults: faults,
				Output: f.output,
			}, cmd.OutOrStdout())
		},
	}
	fs := cmd.Flags()
	f.world.register(fs)
	fs.IntVarP(&f.steps, "steps", "n", 10, "Number of steps to run")
	fs.StringArrayVar(&f.surges, "surge", nil, "Demand surge node=fraction[@step] (repeatable, default step 1)")
	fs.StringArrayVar(&f.faults, "fault", nil, "Segment fault segment[@step] (repeatable, default step 1)")
	fs.StringVarP(&f.output, "output", "o", "json", "Output format: json or yaml")
	return cmd
}

type simulation struct {
	Steps  int
	Surges []scriptedSurge
	Faults []scriptedFault
	Output string
}

func runSimulation(ctx context.Context, cfg config.Config, log logging.Logger, sim simulation, out io.Writer) error {
	if sim.Steps < 0 {
		return fmt.Errorf("%w: steps must be non-negative", state.ErrInvalidArgument)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	world, err := buildWorld(ctx, cfg, log)
	if err != nil {
		return err
	}

	for step := 1; step <= sim.Steps; step++ {
		for _, s := range sim.Surges {
			if s.At == step {
				if err := world.InjectDemandSurge(ctx, s.Node, s.Fraction); err != nil {
					return fmt.Errorf("surge %s before step %d: %w", s.Node, step, err)
				}
			}
		}
		for _, f := range sim.Faults {
			if f.At == step {
				if err := world.InjectSegmentFault(ctx, f.Segment, "scripted"); err != nil {
					return fmt.Errorf("fault %s before step %d: %w", f.Segment, step, err)
				}
			}
		}
		report, err := world.Step(ctx, cfg.Tick)
		if err != nil {
			return err
		}
		log.Debug(ctx, "step",
			logging.Uint64("tick", report.Tick),
			logging.Float64("total_shortfall", report.TotalShortfall),
		)
	}

	doc := api.NewSnapshotDocument(world.Snapshot(), world.SimTime())
	switch strings.ToLower(sim.Output) {
	case "", "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml", "yml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: unknown output format %q", state.ErrInvalidArgument, sim.Output)
	}
}

func splitAt(raw string) (string, int, error) {
	value, atRaw, ok := strings.Cut(raw, "@")
	if !ok {
		return value, 1, nil
	}
	at, err := strconv.Atoi(atRaw)
	if err != nil || at < 1 {
		return "", 0, fmt.Errorf("%w: step in %q must be a positive integer", state.ErrInvalidArgument, raw)
	}
	return value, at, nil
}

func parseSurges(raw []string) ([]scriptedSurge, error) {
	out := make([]scriptedSurge, 0, len(raw))
	for _, r := range raw {
		spec, at, err := splitAt(r)
		if err != nil {
			return nil, err
		}
		node, fracRaw, ok := strings.Cut(spec, "=")
		if !ok || strings.TrimSpace(node) == "" {
			return nil, fmt.Errorf("%w: surge %q must look like node=fraction", state.ErrInvalidArgument, r)
		}
		frac, err := strconv.ParseFloat(fracRaw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: surge %q: %v", state.ErrInvalidArgument, r, err)
		}
		out = append(out, scriptedSurge{Node: strings.TrimSpace(node), Fraction: frac, At: at})
	}
	return out, nil
}

func parseFaults(raw []string) ([]scriptedFault, error) {
	out := make([]scriptedFault, 0, len(raw))
	for _, r := range raw {
		seg, at, err := splitAt(r)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(seg) == "" {
			return nil, fmt.Errorf("%w: fault %q names no segment", state.ErrInvalidArgument, r)
		}
		out = append(out, scriptedFault{Segment: strings.TrimSpace(seg), At: at})
	}
	return out, nil
}
