// Command wearlink keeps a wearable companion connected over BLE and relays
// text between the terminal and the device's channels.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/chaz8081/wearlink/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "wearlink",
	Short: "Connect to a BLE wearable and relay its channels",
	Long: `wearlink scans for a wearable companion device, connects to the selected
device (or the nearest one when proximity auto-connect is on), acquires its
channels and keeps the link alive across disconnects.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (default: ~/.config/wearlink/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults. It returns where the
// config came from for logging once the logger exists.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, defaultPath, nil
	}

	// No config file, use defaults
	return config.Default(), "defaults", nil
}

// setup loads, overrides and validates the config.
func setup() (*config.Config, string, error) {
	cfg, source, err := loadConfig(cfgFile)
	if err != nil {
		return nil, "", fmt.Errorf("config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("config validation: %w", err)
	}
	return cfg, source, nil
}

// printBanner displays the startup configuration summary.
func printBanner(w io.Writer, cfg *config.Config, channel string) {
	selected := cfg.Device.SelectedDeviceID
	if selected == "" {
		selected = "(none)"
	}
	proximity := "off"
	if cfg.Device.AutoConnectByProximity {
		proximity = fmt.Sprintf("on (>= %d dBm)", cfg.Device.RSSIThreshold)
	}

	fmt.Fprintln(w, "=== wearlink ===")
	fmt.Fprintf(w, "  Device:    %s\n", cfg.Device.PeripheralName)
	fmt.Fprintf(w, "  Selected:  %s\n", selected)
	fmt.Fprintf(w, "  Proximity: %s\n", proximity)
	fmt.Fprintf(w, "  Receive:   %s\n", names(cfg.Device.ReceiveChannels))
	fmt.Fprintf(w, "  Transmit:  %s\n", names(cfg.Device.TransmitChannels))
	if channel != "" {
		fmt.Fprintf(w, "  Relay:     stdin -> %s\n", channel)
	}
	fmt.Fprintf(w, "  Log:       %s\n", cfg.Log.Level)
	fmt.Fprintln(w, "=================")
}

func names(table map[string]string) string {
	out := make([]string, 0, len(table))
	for _, name := range table {
		out = append(out, name)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}

// closeLogger flushes the log output, reporting a failure on stderr.
func closeLogger(closeFn func() error) {
	if err := closeFn(); err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("closing log output", "error", err)
	}
}
