package ble

import (
	"testing"

	"github.com/chaz8081/wearlink/internal/config"
)

func TestOptionsFromDefaultConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Device.SelectedDeviceID = "A"

	opts, err := OptionsFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("OptionsFromConfig() error = %v", err)
	}

	want := DefaultManagerOptions()
	if opts.PeripheralName != want.PeripheralName {
		t.Errorf("PeripheralName = %q, want %q", opts.PeripheralName, want.PeripheralName)
	}
	if len(opts.Services) != 2 {
		t.Fatalf("Services = %v, want 2", opts.Services)
	}
	if opts.Services[0] != SerialServiceUUID || opts.Services[1] != DataServiceUUID {
		t.Errorf("Services = %v, want sorted [serial data]", opts.Services)
	}
	if opts.ReceiveChannels[SerialTXCharUUID] != "serial-tx" {
		t.Errorf("ReceiveChannels = %v", opts.ReceiveChannels)
	}
	if opts.TransmitChannels[DataRXCharUUID] != "data-rx" {
		t.Errorf("TransmitChannels = %v", opts.TransmitChannels)
	}
	if opts.RSSIThreshold != -70 || !opts.AutoConnectByProximity {
		t.Errorf("proximity = %v/%d, want true/-70", opts.AutoConnectByProximity, opts.RSSIThreshold)
	}
	if opts.SelectedDevice != "A" {
		t.Errorf("SelectedDevice = %q, want %q", opts.SelectedDevice, "A")
	}
	if opts.DiscoveryExpiry != cfg.Discovery.Expiry || opts.SweepInterval != cfg.Discovery.SweepInterval {
		t.Errorf("timings = %v/%v", opts.DiscoveryExpiry, opts.SweepInterval)
	}
}

func TestOptionsFromConfigBadUUID(t *testing.T) {
	cfg := config.Default()
	cfg.Device.TransmitChannels = map[string]string{"not-a-uuid": "out"}

	if _, err := OptionsFromConfig(cfg, nil); err == nil {
		t.Error("OptionsFromConfig() should reject an invalid UUID")
	}
}
