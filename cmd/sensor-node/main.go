// Command sensor-node samples climate and light sensors, keeps a short
// history and publishes it over HTTP, WebSocket and MQTT.
//
// Usage:
//
//	sensor-node serve -c node.yaml    # Run the node
//	sensor-node read -c node.yaml     # Poll every sensor once and print
//	sensor-node validate -c node.yaml # Check a config file
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time via -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "sensor-node",
	Short: "Cooperative sensor node with HTTP, WebSocket and MQTT telemetry",
	Long: `sensor-node polls a button and a set of sensors on independent
cadences from a single control loop, keeps a bounded history of readings,
manages its broker link with bounded retries, and serves the data as a pull
API (/api/sensors, /api/status, /api/history) and a push channel (/ws).

Without a config file the built-in defaults are used.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sensor-node %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file (defaults if empty)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
