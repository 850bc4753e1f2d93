// Command navigator drives a ground vehicle through a list of waypoints on
// an occupancy-grid map, replanning around obstacles its depth camera finds.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/navstack/internal/config"
	"github.com/banshee-data/navstack/internal/monitoring"
	"github.com/banshee-data/navstack/internal/version"
)

type globalOptions struct {
	configPath string
	debug      bool

	tuning *config.TuningConfig
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "navigator",
		Short:         "Waypoint navigation over an occupancy grid",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			monitoring.SetDebug(opts.debug)
			return opts.loadTuning()
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "tuning config JSON (built-in defaults when empty)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "log per-step detail")

	root.AddCommand(newRunCmd(opts), newPlanCmd(opts), newReplayCmd(opts))
	return root
}

func (o *globalOptions) loadTuning() error {
	if o.configPath == "" {
		o.tuning = config.DefaultTuningConfig()
		return nil
	}
	cfg, err := config.LoadTuningConfig(o.configPath)
	if err != nil {
		return err
	}
	monitoring.Logf("loaded tuning from %s", o.configPath)
	o.tuning = cfg
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "navigator: %v\n", err)
		os.Exit(1)
	}
}
