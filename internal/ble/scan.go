package ble

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ScanOptions configures a one-shot scan.
type ScanOptions struct {
	PeripheralName string // empty accepts every name
	Services       []uuid.UUID
	Duration       time.Duration
}

// ScanForDevices enables the adapter, scans for opts.Duration (or until ctx
// is done) and returns the matching peripherals, strongest signal first.
// It must not be used on an adapter that a Manager is driving.
func ScanForDevices(ctx context.Context, adapter Adapter, opts ScanOptions) ([]Device, error) {
	if opts.Duration <= 0 {
		opts.Duration = DefaultDiscoveryExpiry
	}

	var (
		mu    sync.Mutex
		seen  = NewDiscoveryCache(opts.Duration)
		power = make(chan PowerState, 1)
	)
	sink := func(ev Event) {
		switch ev := ev.(type) {
		case AdapterStateChanged:
			select {
			case power <- ev.State:
			default:
			}
		case Advertisement:
			if opts.PeripheralName != "" && ev.Device.Name != opts.PeripheralName {
				return
			}
			mu.Lock()
			seen.Sight(ev.Device, time.Now())
			mu.Unlock()
		}
	}

	if err := adapter.Enable(sink); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	if err := waitPowerOn(ctx, power); err != nil {
		return nil, err
	}
	if err := adapter.StartScan(opts.Services); err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	<-ctx.Done()
	if err := adapter.StopScan(); err != nil {
		return nil, err
	}

	mu.Lock()
	entries := seen.Entries()
	mu.Unlock()

	devices := make([]Device, len(entries))
	for i, e := range entries {
		devices[i] = e.Device
	}
	slices.SortStableFunc(devices, func(a, b Device) int {
		return cmp.Compare(b.RSSI, a.RSSI)
	})
	return devices, nil
}

func waitPowerOn(ctx context.Context, power <-chan PowerState) error {
	for {
		select {
		case state := <-power:
			if state == PowerOn {
				return nil
			}
			if state == PowerUnsupported || state == PowerUnauthorized {
				return fmt.Errorf("%w: adapter is %s", ErrAdapterUnavailable, state)
			}
		case <-ctx.Done():
			return fmt.Errorf("%w: adapter did not power on", ErrAdapterUnavailable)
		}
	}
}
