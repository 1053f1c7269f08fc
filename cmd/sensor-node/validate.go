package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sweeney/sensor-node/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a configuration file without touching hardware or the network.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return errors.Wrap(err, "invalid config")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Loop period:   %s\n", cfg.LoopPeriod.Duration())
	fmt.Fprintf(out, "  Sensors:       %d\n", len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		fmt.Fprintf(out, "    - %s (%s) every %s\n", s.Name, s.Kind, s.Interval.Duration())
	}
	fmt.Fprintf(out, "  Tasks:         %d of %d\n", cfg.TaskCount(), cfg.Scheduler.MaxTasks)
	fmt.Fprintf(out, "  History:       %d readings\n", cfg.History.Capacity)
	fmt.Fprintf(out, "  Broker:        %s\n", cfg.MQTT.Broker)
	fmt.Fprintf(out, "  HTTP:          %s\n", cfg.HTTP.Addr)
	return nil
}
