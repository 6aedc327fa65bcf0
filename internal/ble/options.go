package ble

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/chaz8081/wearlink/internal/config"
	"github.com/google/uuid"
)

// OptionsFromConfig builds manager options from a validated config.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) (ManagerOptions, error) {
	services, err := config.ParseTable(cfg.Device.Services)
	if err != nil {
		return ManagerOptions{}, fmt.Errorf("ble: device.services: %w", err)
	}
	receive, err := config.ParseTable(cfg.Device.ReceiveChannels)
	if err != nil {
		return ManagerOptions{}, fmt.Errorf("ble: device.receive_channels: %w", err)
	}
	transmit, err := config.ParseTable(cfg.Device.TransmitChannels)
	if err != nil {
		return ManagerOptions{}, fmt.Errorf("ble: device.transmit_channels: %w", err)
	}

	serviceIDs := make([]uuid.UUID, 0, len(services))
	for id := range services {
		serviceIDs = append(serviceIDs, id)
	}
	slices.SortFunc(serviceIDs, func(a, b uuid.UUID) int {
		return strings.Compare(a.String(), b.String())
	})

	return ManagerOptions{
		PeripheralName:         cfg.Device.PeripheralName,
		Services:               serviceIDs,
		ReceiveChannels:        receive,
		TransmitChannels:       transmit,
		AutoConnectByProximity: cfg.Device.AutoConnectByProximity,
		RSSIThreshold:          cfg.Device.RSSIThreshold,
		SelectedDevice:         PeripheralID(cfg.Device.SelectedDeviceID),
		DiscoveryExpiry:        cfg.Discovery.Expiry,
		SweepInterval:          cfg.Discovery.SweepInterval,
		Logger:                 logger,
	}, nil
}
