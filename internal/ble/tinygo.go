//go:build darwin || linux

package ble

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// writeQueueSize bounds pending writes per connection.
const writeQueueSize = 256

// TinyGoAdapter implements Adapter on tinygo-org/bluetooth. Blocking tinygo
// calls run on their own goroutines and report back through the sink.
//
// On macOS, peripheral identities are CoreBluetooth UUIDs (not MAC addresses).
// tinygo exposes no power-state or service-changed callbacks, so Enable
// reports PowerOn once and ServicesInvalidated is never produced.
type TinyGoAdapter struct {
	adapter  *bluetooth.Adapter
	sink     EventSink
	scanning atomic.Bool

	// mu protects conns and pending.
	mu          sync.Mutex
	connections map[PeripheralID]*tinyGoConnection
	// pending holds in-flight connect attempts; true marks a cancelled one.
	pending map[PeripheralID]bool
}

// NewTinyGoAdapter creates an adapter on the platform's default BLE adapter.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[PeripheralID]*tinyGoConnection),
		pending:     make(map[PeripheralID]bool),
	}
}

func (a *TinyGoAdapter) Enable(sink EventSink) error {
	a.sink = sink
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: %w", ErrAdapterUnavailable, err)
	}

	// The adapter-level handler is the only disconnect signal tinygo gives
	// for links the peripheral drops on its own.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		a.dropConnection(PeripheralID(device.Address.String()), nil)
	})

	sink(AdapterStateChanged{State: PowerOn})
	return nil
}

func (a *TinyGoAdapter) StartScan(serviceUUIDs []uuid.UUID) error {
	filter, err := toBluetoothUUIDs(serviceUUIDs)
	if err != nil {
		return err
	}
	if !a.scanning.CompareAndSwap(false, true) {
		return nil
	}

	go func() {
		err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if len(filter) > 0 && !slices.ContainsFunc(filter, result.HasServiceUUID) {
				return
			}
			a.sink(Advertisement{Device: Device{
				ID:   PeripheralID(result.Address.String()),
				Name: result.LocalName(),
				RSSI: int(result.RSSI),
			}})
		})
		a.scanning.Store(false)
		a.sink(ScanStopped{Err: err})
	}()
	return nil
}

func (a *TinyGoAdapter) StopScan() error {
	if !a.scanning.Load() {
		return nil
	}
	if err := a.adapter.StopScan(); err != nil {
		return fmt.Errorf("ble: stop scan: %w", err)
	}
	return nil
}

func (a *TinyGoAdapter) Scanning() bool {
	return a.scanning.Load()
}

func (a *TinyGoAdapter) Connect(id PeripheralID) error {
	// On macOS, bluetooth.Address wraps a UUID, not a MAC.
	// Address.Set() parses either form.
	var addr bluetooth.Address
	addr.Set(string(id))

	a.mu.Lock()
	if _, busy := a.pending[id]; busy {
		a.mu.Unlock()
		return fmt.Errorf("ble: connect to %s already in progress", id)
	}
	a.pending[id] = false
	a.mu.Unlock()

	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})

		a.mu.Lock()
		cancelled := a.pending[id]
		delete(a.pending, id)
		var conn *tinyGoConnection
		if err == nil && !cancelled {
			conn = newTinyGoConnection(id, device, a.sink)
			a.connections[id] = conn
		}
		a.mu.Unlock()

		switch {
		case cancelled:
			if err == nil {
				_ = device.Disconnect()
			}
			a.sink(Disconnected{ID: id})
		case err != nil:
			a.sink(ConnectFailed{ID: id, Err: err})
		default:
			a.sink(Connected{Conn: conn})
		}
	}()
	return nil
}

func (a *TinyGoAdapter) CancelConnect(id PeripheralID) error {
	a.mu.Lock()
	if _, ok := a.pending[id]; ok {
		// tinygo cannot abort an in-flight Connect; the goroutine above
		// disconnects as soon as it returns.
		a.pending[id] = true
		a.mu.Unlock()
		return nil
	}
	conn, ok := a.connections[id]
	a.mu.Unlock()

	if !ok {
		a.sink(Disconnected{ID: id})
		return nil
	}
	err := conn.device.Disconnect()
	a.dropConnection(id, nil)
	if err != nil {
		return fmt.Errorf("ble: disconnect %s: %w", id, err)
	}
	return nil
}

// dropConnection forgets a connection and reports it exactly once, whether
// the local cancel or the platform's handler gets here first.
func (a *TinyGoAdapter) dropConnection(id PeripheralID, err error) {
	a.mu.Lock()
	conn, ok := a.connections[id]
	delete(a.connections, id)
	a.mu.Unlock()
	if !ok {
		return
	}
	conn.close()
	a.sink(Disconnected{ID: id, Err: err})
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	id     PeripheralID
	device bluetooth.Device
	sink   EventSink

	writes    chan writeRequest
	done      chan struct{}
	closeOnce sync.Once
}

type writeRequest struct {
	char         bluetooth.DeviceCharacteristic
	charID       uuid.UUID
	data         []byte
	withResponse bool
}

func newTinyGoConnection(id PeripheralID, device bluetooth.Device, sink EventSink) *tinyGoConnection {
	c := &tinyGoConnection{
		id:     id,
		device: device,
		sink:   sink,
		writes: make(chan writeRequest, writeQueueSize),
		done:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// writeLoop issues writes one at a time so chunks reach the peripheral in order.
func (c *tinyGoConnection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case req := <-c.writes:
			var err error
			if req.withResponse {
				err = writeWithResponse(req.char, req.data)
			} else {
				_, err = req.char.WriteWithoutResponse(req.data)
			}
			if req.withResponse || err != nil {
				c.sink(WriteCompleted{ID: c.id, CharID: req.charID, Err: err})
			}
		}
	}
}

func (c *tinyGoConnection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *tinyGoConnection) ID() PeripheralID { return c.id }

// DiscoverServices asks for every service and lets the manager filter;
// some platforms fail the whole call when one requested UUID is missing.
func (c *tinyGoConnection) DiscoverServices(_ []uuid.UUID) error {
	go func() {
		svcs, err := c.device.DiscoverServices(nil)
		if err != nil {
			c.sink(ServicesDiscovered{ID: c.id, Err: err})
			return
		}
		services := make([]Service, 0, len(svcs))
		for _, svc := range svcs {
			services = append(services, &tinyGoService{svc: svc})
		}
		c.sink(ServicesDiscovered{ID: c.id, Services: services})
	}()
	return nil
}

// DiscoverCharacteristics returns every characteristic of the service; the
// registry ignores the ones that are not configured.
func (c *tinyGoConnection) DiscoverCharacteristics(svc Service, _ []uuid.UUID) error {
	s, ok := svc.(*tinyGoService)
	if !ok {
		return errors.New("ble: service was not discovered by this adapter")
	}
	go func() {
		chars, err := s.svc.DiscoverCharacteristics(nil)
		if err != nil {
			c.sink(CharacteristicsDiscovered{ID: c.id, Service: svc, Err: err})
			return
		}
		result := make([]Characteristic, 0, len(chars))
		for _, ch := range chars {
			result = append(result, &tinyGoCharacteristic{conn: c, char: ch, id: fromBluetoothUUID(ch.UUID())})
		}
		c.sink(CharacteristicsDiscovered{ID: c.id, Service: svc, Characteristics: result})
	}()
	return nil
}

type tinyGoService struct {
	svc bluetooth.DeviceService
}

func (s *tinyGoService) UUID() uuid.UUID { return fromBluetoothUUID(s.svc.UUID()) }

type tinyGoCharacteristic struct {
	conn *tinyGoConnection
	char bluetooth.DeviceCharacteristic
	id   uuid.UUID
}

func (c *tinyGoCharacteristic) UUID() uuid.UUID { return c.id }

func (c *tinyGoCharacteristic) Write(data []byte, withResponse bool) error {
	req := writeRequest{char: c.char, charID: c.id, data: data, withResponse: withResponse}
	select {
	case <-c.conn.done:
		return fmt.Errorf("%w: connection closed", ErrWriteFailed)
	case c.conn.writes <- req:
		return nil
	default:
		return fmt.Errorf("%w: write queue full", ErrWriteFailed)
	}
}

func (c *tinyGoCharacteristic) SetNotify(enabled bool) error {
	var cb func([]byte)
	if enabled {
		cb = func(buf []byte) {
			value := make([]byte, len(buf))
			copy(value, buf)
			c.conn.sink(ValueUpdated{ID: c.conn.id, CharID: c.id, Value: value})
		}
	}
	go func() {
		if err := c.char.EnableNotifications(cb); err != nil {
			c.conn.sink(ValueUpdated{ID: c.conn.id, CharID: c.id, Err: fmt.Errorf("enable notifications: %w", err)})
		}
	}()
	return nil
}

func (c *tinyGoCharacteristic) MaxWriteLength(_ bool) int {
	mtu, err := c.char.GetMTU()
	if err != nil {
		return DefaultMaxWriteLength
	}
	return maxWriteLength(mtu)
}

// maxWriteLength converts the value GetMTU reports into a chunk size,
// never below DefaultMaxWriteLength.
func maxWriteLength(mtu uint16) int {
	return max(writePayload(mtu), DefaultMaxWriteLength)
}

func toBluetoothUUIDs(ids []uuid.UUID) ([]bluetooth.UUID, error) {
	out := make([]bluetooth.UUID, 0, len(ids))
	for _, id := range ids {
		u, err := bluetooth.ParseUUID(id.String())
		if err != nil {
			return nil, fmt.Errorf("ble: parse UUID %s: %w", id, err)
		}
		out = append(out, u)
	}
	return out, nil
}

func fromBluetoothUUID(u bluetooth.UUID) uuid.UUID {
	id, err := uuid.Parse(u.String())
	if err != nil {
		return uuid.Nil
	}
	return id
}
