package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/chaz8081/wearlink/internal/eventbus"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Publisher receives the manager's outward events.
type Publisher interface {
	Publish(ctx context.Context, e eventbus.Event)
}

// ManagerOptions configures the manager. It is frozen at construction.
type ManagerOptions struct {
	PeripheralName         string
	Services               []uuid.UUID
	ReceiveChannels        map[uuid.UUID]string
	TransmitChannels       map[uuid.UUID]string
	AutoConnectByProximity bool
	RSSIThreshold          int
	SelectedDevice         PeripheralID  // initial TargetSelection
	DiscoveryExpiry        time.Duration // entry lifetime after last sighting
	SweepInterval          time.Duration // discovery prune period
	Logger                 *slog.Logger
	Now                    func() time.Time
}

// DefaultManagerOptions returns options for a Monocle on its serial and data
// services.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		PeripheralName: "monocle",
		Services:       []uuid.UUID{SerialServiceUUID, DataServiceUUID},
		ReceiveChannels: map[uuid.UUID]string{
			SerialTXCharUUID: "serial-tx",
			DataTXCharUUID:   "data-tx",
		},
		TransmitChannels: map[uuid.UUID]string{
			SerialRXCharUUID: "serial-rx",
			DataRXCharUUID:   "data-rx",
		},
		AutoConnectByProximity: true,
		RSSIThreshold:          -70,
		DiscoveryExpiry:        DefaultDiscoveryExpiry,
		SweepInterval:          DefaultSweepInterval,
	}
}

// snapshot is the observable state, republished by the loop after every event.
type snapshot struct {
	state     State
	power     PowerState
	enabled   bool
	connected PeripheralID // empty unless connected was announced
	selected  PeripheralID
	devices   []PeripheralID
}

// Manager is the connection manager. Construct with NewManager and drive
// with Run; every other method is safe to call from any goroutine.
type Manager struct {
	adapter Adapter
	bus     Publisher
	opts    ManagerOptions
	log     *slog.Logger
	now     func() time.Time

	queue *eventQueue
	done  chan struct{}
	ctx   context.Context

	// Loop-owned state. Only touched from handle.
	cache     *DiscoveryCache
	registry  *Registry
	session   *session
	enabled   bool
	selected  PeripheralID
	power     PowerState
	sightings *rate.Limiter

	snapMu sync.RWMutex
	snap   snapshot
}

// NewManager creates a manager for the given adapter. Events are published
// to bus, which may be nil.
func NewManager(adapter Adapter, bus Publisher, opts ManagerOptions) (*Manager, error) {
	if adapter == nil {
		return nil, errors.New("ble: adapter is required")
	}
	if len(opts.ReceiveChannels)+len(opts.TransmitChannels) == 0 {
		return nil, errors.New("ble: at least one receive or transmit channel is required")
	}
	if opts.DiscoveryExpiry <= 0 {
		opts.DiscoveryExpiry = DefaultDiscoveryExpiry
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Manager{
		adapter:   adapter,
		bus:       bus,
		opts:      opts,
		log:       opts.Logger,
		now:       opts.Now,
		queue:     newEventQueue(),
		done:      make(chan struct{}),
		ctx:       context.Background(),
		cache:     NewDiscoveryCache(opts.DiscoveryExpiry),
		registry:  NewRegistry(opts.ReceiveChannels, opts.TransmitChannels),
		selected:  opts.SelectedDevice,
		sightings: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	m.publishSnapshot()
	return m, nil
}

// Run enables the adapter and processes events until ctx is cancelled.
// Run returns an error wrapping ErrAdapterUnavailable if the adapter cannot
// be enabled.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	m.ctx = ctx

	if err := m.adapter.Enable(m.post); err != nil {
		m.log.Error("[BLE] adapter unavailable", "error", err)
		m.publish(eventbus.Event{Type: eventbus.TypeAdapterState, State: PowerUnsupported.String(), Err: err})
		if errors.Is(err, ErrAdapterUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrAdapterUnavailable, err)
	}

	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case <-ticker.C:
			m.dispatch(sweepTick{})
		case <-m.queue.ready():
			for {
				ev, ok := m.queue.pop()
				if !ok {
					break
				}
				m.dispatch(ev)
			}
		}
	}
}

// post is the adapter's event sink.
func (m *Manager) post(ev Event) {
	m.queue.push(ev)
}

// SetEnabled turns connectivity on or off. Disabling stops scanning and
// drops any session but keeps the selected device.
func (m *Manager) SetEnabled(enabled bool) {
	m.post(setEnabledCmd{enabled: enabled})
}

// SetSelectedDevice sets the device to connect to when sighted. If a
// session exists for a different device it is disconnected.
func (m *Manager) SetSelectedDevice(id PeripheralID) {
	m.post(setSelectedCmd{id: id})
}

// Sync waits until every event queued before the call, and everything those
// events queued in turn, has been handled.
func (m *Manager) Sync(ctx context.Context) error {
	done := make(chan struct{})
	m.post(syncCmd{done: done})
	select {
	case <-done:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) Enabled() bool {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap.enabled
}

// IsConnected reports whether a connected event has been published for the
// current session and no disconnect has happened since.
func (m *Manager) IsConnected() bool {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap.connected != ""
}

// ConnectedDevice returns the connected identity, or "" when not connected.
func (m *Manager) ConnectedDevice() PeripheralID {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap.connected
}

func (m *Manager) SelectedDevice() PeripheralID {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap.selected
}

// DiscoveredDevices returns the visible identities. Order is not meaningful.
func (m *Manager) DiscoveredDevices() []PeripheralID {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return slices.Clone(m.snap.devices)
}

func (m *Manager) State() State {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap.state
}

func (m *Manager) Power() PowerState {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap.power
}

// Channels lists the configured channels.
func (m *Manager) Channels() []ChannelSpec {
	return m.registry.Specs()
}

// Channel resolves a channel name the way Send does.
func (m *Manager) Channel(name string) (ChannelSpec, bool) {
	return m.registry.Channel(name)
}

func (m *Manager) dispatch(ev Event) {
	m.handle(ev)
	m.publishSnapshot()
}

func (m *Manager) handle(ev Event) {
	switch ev := ev.(type) {
	case AdapterStateChanged:
		m.onAdapterState(ev)
	case Advertisement:
		m.onAdvertisement(ev.Device)
	case ScanStopped:
		m.onScanStopped(ev)
	case Connected:
		m.onConnected(ev.Conn)
	case ConnectFailed:
		m.onConnectFailed(ev)
	case Disconnected:
		m.onDisconnected(ev)
	case ServicesDiscovered:
		m.onServicesDiscovered(ev)
	case ServicesInvalidated:
		m.onServicesInvalidated(ev)
	case CharacteristicsDiscovered:
		m.onCharacteristicsDiscovered(ev)
	case ValueUpdated:
		m.onValueUpdated(ev)
	case WriteCompleted:
		m.onWriteCompleted(ev)
	case setEnabledCmd:
		m.setEnabled(ev.enabled)
	case setSelectedCmd:
		m.setSelected(ev.id)
	case sendCmd:
		ev.reply <- m.send(ev.data, ev.channel, ev.requireAck)
	case syncCmd:
		if m.queue.len() > 0 {
			m.post(ev)
			return
		}
		close(ev.done)
	case sweepTick:
		if m.cache.Sweep(m.now()) {
			m.publishDevices()
		}
	default:
		m.log.Warn("[BLE] unhandled event", "type", fmt.Sprintf("%T", ev))
	}
}

// DiscoveryCache and the connection decision

func (m *Manager) onAdvertisement(d Device) {
	if m.sightings.Allow() {
		m.log.Debug("[BLE] discovered peripheral", "name", d.Name, "id", d.ID, "rssi", d.RSSI)
	}

	now := m.now()
	if d.Name != m.opts.PeripheralName {
		if m.cache.Sweep(now) {
			m.publishDevices()
		}
		return
	}
	if m.cache.Sight(d, now) {
		m.publishDevices()
	}

	if m.session != nil || !m.enabled {
		return
	}
	if m.shouldConnect(d) {
		m.connect(d)
	}
}

// shouldConnect applies the decision rule: the selected device, or any
// device at or above the RSSI threshold when proximity auto-connect is on.
func (m *Manager) shouldConnect(d Device) bool {
	if m.selected != "" && d.ID == m.selected {
		return true
	}
	return m.opts.AutoConnectByProximity && d.RSSI >= m.opts.RSSIThreshold
}

// ConnectionStateMachine

func (m *Manager) connect(d Device) {
	m.session = newSession(d, m.now())
	m.registry.Reset()
	m.stopScan()
	m.log.Info("[BLE] connecting to peripheral", "name", d.Name, "id", d.ID, "rssi", d.RSSI, "session", m.session.token)

	if err := m.adapter.Connect(d.ID); err != nil {
		m.teardown(&ConnectionError{ID: d.ID, Kind: ErrConnectionFailed, Cause: err})
	}
}

// current returns the session if id matches it. Callbacks for any other
// peripheral are logged and dropped.
func (m *Manager) current(id PeripheralID, what string) *session {
	if m.session == nil || m.session.id() != id {
		m.log.Warn("[BLE] "+what+" from an unexpected peripheral", "id", id)
		return nil
	}
	return m.session
}

func (m *Manager) transition(s *session, to State) {
	if s.state == to {
		return
	}
	m.log.Debug("[BLE] state", "from", s.state, "to", to, "session", s.token)
	s.state = to
}

func (m *Manager) onConnected(conn Connection) {
	s := m.current(conn.ID(), "connect")
	if s == nil {
		return
	}
	if s.cancelling {
		m.log.Debug("[BLE] connected while cancelling, waiting for disconnect", "id", s.id())
		return
	}
	m.log.Info("[BLE] connected to peripheral", "name", s.device.Name, "id", s.id())
	s.conn = conn
	m.discoverServices(s)
}

func (m *Manager) discoverServices(s *session) {
	m.transition(s, StateDiscoveringServices)
	if err := s.conn.DiscoverServices(m.opts.Services); err != nil {
		m.cancelSession(&ConnectionError{ID: s.id(), Kind: ErrServiceDiscoveryFailed, Cause: err})
	}
}

func (m *Manager) onConnectFailed(ev ConnectFailed) {
	if m.current(ev.ID, "connect failure") == nil {
		return
	}
	m.teardown(&ConnectionError{ID: ev.ID, Kind: ErrConnectionFailed, Cause: ev.Err})
}

func (m *Manager) onDisconnected(ev Disconnected) {
	s := m.current(ev.ID, "disconnect")
	if s == nil {
		return
	}
	if ev.Err != nil {
		m.log.Warn("[BLE] disconnected from peripheral", "id", ev.ID, "error", ev.Err)
	} else {
		m.log.Info("[BLE] disconnected from peripheral", "id", ev.ID)
	}
	m.teardown(nil)
}

func (m *Manager) onServicesDiscovered(ev ServicesDiscovered) {
	s := m.current(ev.ID, "service discovery")
	if s == nil || s.cancelling || s.conn == nil {
		return
	}
	if ev.Err != nil {
		m.cancelSession(&ConnectionError{ID: ev.ID, Kind: ErrServiceDiscoveryFailed, Cause: ev.Err})
		return
	}

	var services []Service
	for _, svc := range ev.Services {
		m.log.Debug("[BLE] service", "uuid", svc.UUID(), "id", ev.ID)
		if len(m.opts.Services) == 0 || slices.Contains(m.opts.Services, svc.UUID()) {
			services = append(services, svc)
		}
	}
	if len(services) == 0 {
		m.cancelSession(&ConnectionError{ID: ev.ID, Kind: ErrServiceDiscoveryFailed, Cause: errors.New("no configured service found")})
		return
	}

	m.transition(s, StateDiscoveringCharacteristics)
	m.registry.Reset()
	ids := m.registry.Identifiers()
	for _, svc := range services {
		if err := s.conn.DiscoverCharacteristics(svc, ids); err != nil {
			m.cancelSession(&ConnectionError{ID: ev.ID, Kind: ErrCharacteristicDiscoveryFailed, Cause: err})
			return
		}
	}
}

func (m *Manager) onServicesInvalidated(ev ServicesInvalidated) {
	s := m.current(ev.ID, "service change")
	if s == nil || s.cancelling || s.conn == nil {
		return
	}
	m.log.Info("[BLE] services modified", "id", ev.ID, "invalidated", len(ev.Services))

	m.registry.Reset()
	m.discoverServices(s)
}

func (m *Manager) onCharacteristicsDiscovered(ev CharacteristicsDiscovered) {
	s := m.current(ev.ID, "characteristic discovery")
	if s == nil || s.cancelling || s.conn == nil {
		return
	}
	if ev.Err != nil {
		m.cancelSession(&ConnectionError{ID: ev.ID, Kind: ErrCharacteristicDiscoveryFailed, Cause: ev.Err})
		return
	}

	for _, c := range ev.Characteristics {
		spec, ok := m.registry.Acquire(c)
		if !ok {
			m.log.Debug("[BLE] ignoring characteristic", "uuid", c.UUID())
			continue
		}
		m.log.Info("[BLE] obtained characteristic", "channel", spec.Name, "direction", spec.Direction)
		if spec.Receives() {
			if err := c.SetNotify(true); err != nil {
				m.log.Warn("[BLE] failed to enable notifications", "channel", spec.Name, "error", err)
			}
		}
	}

	if s.state != StateDiscoveringCharacteristics || !m.registry.IsComplete() {
		return
	}
	m.transition(s, StateReady)
	if s.announced {
		return
	}
	s.announced = true
	if m.selected == "" {
		m.selected = s.id()
		m.log.Info("[BLE] selected device adopted from proximity connect", "id", s.id())
	}
	m.log.Info("[BLE] peripheral ready", "id", s.id(), "channels", m.registry.Acquired(), "after", m.now().Sub(s.started))
	m.publish(eventbus.Event{Type: eventbus.TypeConnected, DeviceID: string(s.id())})
}

func (m *Manager) onValueUpdated(ev ValueUpdated) {
	name := m.registry.Name(ev.CharID)
	if ev.Err != nil {
		m.log.Warn("[BLE] value update failed", "channel", name, "error", ev.Err)
		return
	}
	if m.current(ev.ID, "value update") == nil {
		return
	}
	spec, ok := m.registry.Spec(ev.CharID)
	if !ok || !spec.Receives() {
		return
	}
	m.publish(eventbus.Event{Type: eventbus.TypeDataReceived, Channel: spec.Name, Data: ev.Value})
}

func (m *Manager) onWriteCompleted(ev WriteCompleted) {
	name := m.registry.Name(ev.CharID)
	if ev.Err != nil {
		err := &ChannelError{Channel: name, Err: fmt.Errorf("%w: %w", ErrWriteFailed, ev.Err)}
		m.log.Warn("[BLE] write failed", "id", ev.ID, "error", err)
		return
	}
	m.log.Debug("[BLE] write acknowledged", "channel", name)
}

func (m *Manager) setSelected(id PeripheralID) {
	if id == m.selected {
		return
	}
	m.log.Info("[BLE] selected device changed", "from", m.selected, "to", id)
	m.selected = id
	if m.session != nil && m.session.id() != id {
		m.cancelSession(nil)
	}
}

// cancelSession asks the platform to drop the session. Teardown happens when
// the Disconnected callback arrives.
func (m *Manager) cancelSession(reason error) {
	s := m.session
	if s.cancelling {
		return
	}
	if reason != nil {
		m.log.Warn("[BLE] dropping session", "error", reason)
	}
	s.cancelling = true
	if err := m.adapter.CancelConnect(s.id()); err != nil {
		m.log.Warn("[BLE] cancel connection failed", "id", s.id(), "error", err)
		m.teardown(nil)
	}
}

// teardown discards the session and its channel handles, announces the
// disconnect if the session was ever announced, and resumes scanning when
// enabled.
func (m *Manager) teardown(reason error) {
	s := m.session
	if s == nil {
		return
	}
	if reason != nil {
		m.log.Error("[BLE] session failed", "error", reason)
	}
	m.transition(s, StateDisconnected)
	m.session = nil
	m.registry.Reset()

	if s.announced {
		m.publish(eventbus.Event{Type: eventbus.TypeDisconnected, DeviceID: string(s.id()), Err: reason})
	}
	if m.cache.Sweep(m.now()) {
		m.publishDevices()
	}
	if m.enabled && m.power == PowerOn {
		m.startScan()
	}
}

func (m *Manager) shutdown() {
	m.enabled = false
	m.stopScan()
	if s := m.session; s != nil {
		if !s.cancelling {
			_ = m.adapter.CancelConnect(s.id())
		}
		m.teardown(nil)
	}
	m.publishSnapshot()
	m.log.Info("[BLE] manager stopped")
}

func (m *Manager) publish(e eventbus.Event) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(m.ctx, e)
}

func (m *Manager) publishDevices() {
	ids := m.cache.Devices()
	devices := make([]string, len(ids))
	for i, id := range ids {
		devices[i] = string(id)
	}
	m.log.Debug("[BLE] discovered peripherals", "count", len(devices))
	m.publish(eventbus.Event{Type: eventbus.TypeDevicesChanged, Devices: devices})
}

func (m *Manager) publishSnapshot() {
	snap := snapshot{
		power:    m.power,
		enabled:  m.enabled,
		selected: m.selected,
		devices:  m.cache.Devices(),
	}
	switch {
	case m.session != nil:
		snap.state = m.session.state
		if m.session.announced && !m.session.cancelling {
			snap.connected = m.session.id()
		}
	case m.adapter.Scanning():
		snap.state = StateScanning
	default:
		snap.state = StateIdle
	}

	m.snapMu.Lock()
	m.snap = snap
	m.snapMu.Unlock()
}
