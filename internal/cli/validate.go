package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/gridworld-simulator/core"
	"github.com/signalsfoundry/gridworld-simulator/internal/sim/state"
	"github.com/signalsfoundry/gridworld-simulator/kb"
)

func newValidateCommand(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <topology-file>",
		Short: "Check a topology file without starting the simulator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := kb.NewRegistry()
			summary, err := core.LoadTopologyFile(reg, args[0])
			if err != nil {
				return err
			}
			world, err := state.NewWorld(reg, nil)
			if err != nil {
				return err
			}
			name := summary.Name
			if name == "" {
				name = args[0]
			}
			fmt.Fprintf(cmd.OutOrStdout(), "topology %q ok: %d nodes, %d segments, supply pool %g\n",
				name, len(summary.NodeIDs), len(summary.Segments), world.SupplyPool())
			return nil
		},
	}
}
