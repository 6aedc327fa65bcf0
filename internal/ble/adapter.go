// Package ble is the central-role connection manager for a single wearable
// companion device. It owns discovery, the connection state machine,
// characteristic acquisition and MTU-aware chunked writes over named channels.
//
// All platform callbacks and timers are serialized onto one event loop
// (Manager.Run). Public entry points marshal onto that loop, so the discovery
// cache and session state need no locking of their own.
package ble

import "github.com/google/uuid"

// Monocle BLE UUIDs. The serial pair carries text, the data pair raw bytes.
// Names follow the device's own perspective: the host writes to RX and
// receives notifications on TX.
var (
	SerialServiceUUID = uuid.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	SerialRXCharUUID  = uuid.MustParse("6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	SerialTXCharUUID  = uuid.MustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e")

	DataServiceUUID = uuid.MustParse("e5700001-7bac-429a-b4ce-57ff900f479d")
	DataRXCharUUID  = uuid.MustParse("e5700002-7bac-429a-b4ce-57ff900f479d")
	DataTXCharUUID  = uuid.MustParse("e5700003-7bac-429a-b4ce-57ff900f479d")
)

// DefaultMaxWriteLength is the ATT default payload (23-byte MTU minus header).
const DefaultMaxWriteLength = 20

// PeripheralID is the platform identity of a peripheral. On macOS this is a
// CoreBluetooth UUID, on Linux the device MAC address.
type PeripheralID string

// Device is a single advertisement sighting. It is recreated on every
// discovery event.
type Device struct {
	ID   PeripheralID
	Name string
	RSSI int
}

// Service is a discovered GATT service.
type Service interface {
	UUID() uuid.UUID
}

// Characteristic is an acquired GATT characteristic handle.
type Characteristic interface {
	UUID() uuid.UUID
	// Write queues data for the characteristic. Failures may be returned
	// immediately or reported later as a WriteCompleted event.
	Write(data []byte, withResponse bool) error
	// SetNotify toggles value notifications. Values arrive as ValueUpdated events.
	SetNotify(enabled bool) error
	// MaxWriteLength is the negotiated maximum payload for a single write.
	MaxWriteLength(withResponse bool) int
}

// Connection is an established link to a peripheral. Discovery results are
// reported asynchronously through the adapter's event sink.
type Connection interface {
	ID() PeripheralID
	// DiscoverServices reports a ServicesDiscovered event.
	DiscoverServices(serviceUUIDs []uuid.UUID) error
	// DiscoverCharacteristics reports a CharacteristicsDiscovered event.
	DiscoverCharacteristics(svc Service, charUUIDs []uuid.UUID) error
}

// Adapter abstracts the platform BLE stack for testing. No method blocks:
// results are delivered later as Events through the sink given to Enable.
type Adapter interface {
	// Enable powers on the adapter and registers the event sink.
	Enable(sink EventSink) error
	// StartScan begins reporting Advertisement events for peripherals that
	// advertise any of the given services.
	StartScan(serviceUUIDs []uuid.UUID) error
	StopScan() error
	Scanning() bool
	// Connect starts a connection attempt. The outcome is a Connected or
	// ConnectFailed event.
	Connect(id PeripheralID) error
	// CancelConnect aborts an attempt or drops a live connection. A
	// Disconnected event always follows.
	CancelConnect(id PeripheralID) error
}
