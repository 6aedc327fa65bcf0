package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/wearlink/internal/ble"
	"github.com/chaz8081/wearlink/internal/bridge"
	"github.com/chaz8081/wearlink/internal/eventbus"
	"github.com/chaz8081/wearlink/internal/logging"
	"github.com/spf13/cobra"
)

var (
	relayChannel string
	relayAck     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect and relay stdin/stdout to the device",
	Long: `Run keeps the wearable connected. Each line read from stdin is sent on the
relay channel; data received on any receive channel is written to stdout.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&relayChannel, "channel", "serial-rx", "transmit channel for stdin lines")
	runCmd.Flags().BoolVar(&relayAck, "ack", false, "use write-with-response for every chunk")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, source, err := setup()
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLogger(closeLog)
	logger.Info("config loaded", "source", source)

	opts, err := ble.OptionsFromConfig(cfg, logger)
	if err != nil {
		return err
	}

	bus := eventbus.New(logger, cfg.Events.QueueSize)
	defer bus.Close()

	mgr, err := ble.NewManager(ble.NewTinyGoAdapter(), bus, opts)
	if err != nil {
		return err
	}
	if !transmits(mgr, relayChannel) {
		return fmt.Errorf("--channel %q is not a configured transmit channel", relayChannel)
	}

	printBanner(cmd.ErrOrStderr(), cfg, relayChannel)

	relay := bridge.New(mgr, cmd.OutOrStdout(), bridge.Options{
		Channel:    relayChannel,
		RequireAck: relayAck,
		Logger:     logger,
	})
	bus.SubscribeAll(relay.HandleEvent)
	bus.Subscribe(eventbus.TypeConnected, func(_ context.Context, e eventbus.Event) {
		if cfg.Device.SelectedDeviceID == "" {
			logger.Info("set device.selected_device_id to pin this device", "id", e.DeviceID)
		}
	})

	// Signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- mgr.Run(ctx) }()
	mgr.SetEnabled(true)

	go func() {
		if err := relay.Pump(ctx, cmd.InOrStdin()); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("stdin relay stopped", "error", err)
		}
	}()

	logger.Info("ready, Ctrl+C to quit")
	if err := <-runErr; err != nil {
		return err
	}
	logger.Info("goodbye")
	return nil
}

func transmits(mgr *ble.Manager, channel string) bool {
	spec, ok := mgr.Channel(channel)
	return ok && spec.Transmits()
}
