package main

import (
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/chaz8081/wearlink/internal/ble"
	"github.com/chaz8081/wearlink/internal/logging"
	"github.com/spf13/cobra"
)

var (
	scanDuration time.Duration
	scanAll      bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List nearby devices",
	Long: `Scan advertises for the configured services and lists matching devices,
strongest signal first. Use an ID with device.selected_device_id to pin it.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().DurationVar(&scanDuration, "duration", 10*time.Second, "scan duration")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "list every name, not just device.peripheral_name")
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLogger(closeLog)

	opts, err := ble.OptionsFromConfig(cfg, logger)
	if err != nil {
		return err
	}
	name := cfg.Device.PeripheralName
	if scanAll {
		name = ""
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	logger.Info("scanning", "duration", scanDuration, "name", name)
	devices, err := ble.ScanForDevices(ctx, ble.NewTinyGoAdapter(), ble.ScanOptions{
		PeripheralName: name,
		Services:       opts.Services,
		Duration:       scanDuration,
	})
	if err != nil {
		return err
	}

	if len(devices) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No devices found.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tRSSI")
	for _, d := range devices {
		marker := ""
		if string(d.ID) == cfg.Device.SelectedDeviceID {
			marker = " (selected)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d%s\n", d.ID, d.Name, d.RSSI, marker)
	}
	return w.Flush()
}
