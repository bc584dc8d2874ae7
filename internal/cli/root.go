// Package cli implements the gridworld command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/gridworld-simulator/internal/config"
	"github.com/signalsfoundry/gridworld-simulator/internal/logging"
)

type rootOptions struct {
	envFile   string
	logLevel  string
	logFormat string
}

// NewRootCommand builds the gridworld command with its subcommands. Command
// output goes to out; logs go to errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "gridworld",
		Short: "Gridworld is a stepped simulation of a small power distribution grid",
		Long: `Gridworld keeps a live model of nodes (facilities with capacity, demand and
priority) joined by segments, steps it on a fixed cadence and lets operators
inject demand surges and segment faults over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Optional dotenv file with GRID_* settings")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (default: LOG_LEVEL or info)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: text or json (default: LOG_FORMAT or text)")

	cmd.AddCommand(
		newServeCommand(opts),
		newSimulateCommand(opts),
		newValidateCommand(opts),
	)
	return cmd
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	cmd := NewRootCommand(os.Stdout, os.Stderr)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

// loadConfig resolves defaults, env file and environment, then applies the
// persistent logging flags.
func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return config.Config{}, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	return cfg, nil
}

func newLogger(cfg config.Config, w io.Writer) logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: w,
	})
}
