package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sweeney/sensor-node/internal/app"
	"github.com/sweeney/sensor-node/internal/clock"
	"github.com/sweeney/sensor-node/internal/config"
	"github.com/sweeney/sensor-node/internal/gpio"
	"github.com/sweeney/sensor-node/internal/input"
	"github.com/sweeney/sensor-node/internal/logging"
	"github.com/sweeney/sensor-node/internal/metrics"
	"github.com/sweeney/sensor-node/internal/mqtt"
	"github.com/sweeney/sensor-node/internal/status"
	"github.com/sweeney/sensor-node/internal/web"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sensor node",
	Long: `Run the sensor node until interrupted (Ctrl+C) or SIGTERM.

The node polls the button and sensors, connects to the MQTT broker, and
serves the HTTP API, the /ws push channel and /metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("log-level", "", "log level (overrides config)")
	serveCmd.Flags().String("http", "", "HTTP listen address (overrides config)")
}

// applyOverrides copies explicitly set flags over the loaded config.
func applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("http") {
		cfg.HTTP.Addr, _ = cmd.Flags().GetString("http")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	applyOverrides(cmd, cfg)

	logs := logging.New(cfg.LogLevel, os.Stderr)
	log := logs.Get("main")

	creds, err := config.LoadCredentials(cfg.CredentialsFile)
	if err != nil {
		return err
	}

	// Button: polled level plus edge interrupts. A missing line is not fatal.
	var button gpio.Reader
	edges := input.NewEdgeQueue(cfg.Input.QueueSize)
	if r, err := gpio.NewRealReader(cfg.Input.Chip, cfg.Input.Pin, cfg.Input.ActiveLow, edges); err != nil {
		log.WithError(err).Warn("button unavailable")
		edges = nil
	} else {
		button = r
		defer r.Close()
	}

	chans, err := cfg.Channels(config.SysfsProbes)
	if err != nil {
		return err
	}

	client := mqtt.NewClient(mqtt.Options{
		Broker:         cfg.MQTT.Broker,
		ClientID:       cfg.MQTT.ClientID,
		Username:       creds.Username,
		Password:       creds.Password,
		Topic:          cfg.MQTT.Topic,
		SystemTopic:    cfg.MQTT.SystemTopic,
		ConnectTimeout: cfg.Connectivity.ConnectTimeout.Duration(),
	})
	defer client.Close()

	m := metrics.New()
	tracker := status.NewTracker(time.Now(), status.Config{
		LoopMs:      cfg.LoopPeriod.Duration().Milliseconds(),
		BroadcastMs: cfg.Publisher.BroadcastInterval.Duration().Milliseconds(),
		DebounceMs:  cfg.Input.Debounce.Duration().Milliseconds(),
		HeartbeatMs: cfg.MQTT.Heartbeat.Duration().Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
	})

	node, err := app.New(app.Deps{
		Config:    cfg,
		Clock:     clock.NewMonotonic(0),
		Button:    button,
		Edges:     edges,
		Channels:  chans,
		Transport: client,
		Uplink:    client,
		Tracker:   tracker,
		Metrics:   m,
		Log:       logs.Get("node"),
	})
	if err != nil {
		return err
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, web.Options{
			Tracker:    tracker,
			Hub:        node,
			Metrics:    m.Handler(),
			SendBuffer: cfg.Publisher.SendBuffer,
			Log:        logs.Get("web"),
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("http server error")
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		log.WithField("addr", cfg.HTTP.Addr).Info("http server listening")
	}

	log.WithFields(logrus.Fields{
		"broker":    cfg.MQTT.Broker,
		"client_id": cfg.MQTT.ClientID,
		"user":      creds.Username,
	}).Info("starting")

	ticker := time.NewTicker(cfg.LoopPeriod.Duration())
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return node.Run(cmd.Context(), ticker.C, sigCh)
}
