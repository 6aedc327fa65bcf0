//go:build darwin

package ble

import "tinygo.org/x/bluetooth"

func writeWithResponse(char bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := char.Write(data)
	return err
}

// writePayload returns mtu unchanged: CoreBluetooth's GetMTU already reports
// the maximum write value length.
func writePayload(mtu uint16) int {
	return int(mtu)
}
