package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sweeney/sensor-node/internal/clock"
	"github.com/sweeney/sensor-node/internal/config"
	"github.com/sweeney/sensor-node/internal/sensor"
	"github.com/sweeney/sensor-node/internal/telemetry"
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Poll every sensor once and print the reading",
	Long: `Poll every configured sensor once, print each failure to stderr and the
combined reading to stdout as the same JSON frame the node broadcasts.`,
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
}

func runRead(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	chans, err := cfg.Channels(config.SysfsProbes)
	if err != nil {
		return err
	}

	clk := clock.NewMonotonic(0)
	sampler, err := sensor.NewSampler(clk, nil, chans...)
	if err != nil {
		return err
	}

	now := clk.Now()
	for i, ch := range sampler.Channels() {
		if err := sampler.Poll(i, now); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", ch.Name, err)
		}
	}

	r := sampler.Current()
	frame, err := telemetry.FormatSensors(r, 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", frame)
	if !r.Valid {
		return errors.New("reading invalid")
	}
	return nil
}
