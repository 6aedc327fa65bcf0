//go:build linux

package ble

import (
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"
)

// attHeaderLen is subtracted from the ATT MTU to get the write payload.
const attHeaderLen = 3

var ackUnsupported sync.Once

// writeWithResponse falls back to a write command: tinygo's BlueZ backend
// has no acknowledged write.
func writeWithResponse(char bluetooth.DeviceCharacteristic, data []byte) error {
	ackUnsupported.Do(func() {
		slog.Warn("[BLE] write with response is not supported on linux, writing without response")
	})
	_, err := char.WriteWithoutResponse(data)
	return err
}

// writePayload strips the ATT header from the BlueZ MTU property.
func writePayload(mtu uint16) int {
	return int(mtu) - attHeaderLen
}
