package ble

import (
	"sync"

	"github.com/google/uuid"
)

// Event is a platform callback turned into a value. Events are queued and
// handled in arrival order on the manager's loop.
type Event interface {
	isEvent()
}

// EventSink receives platform events. It never blocks, so adapters may call
// it from any goroutine, including the platform's own callback threads.
type EventSink func(Event)

// PowerState is the adapter's power/authorization state.
type PowerState int

const (
	PowerUnknown PowerState = iota
	PowerResetting
	PowerUnsupported
	PowerUnauthorized
	PowerOff
	PowerOn
)

func (s PowerState) String() string {
	switch s {
	case PowerResetting:
		return "resetting"
	case PowerUnsupported:
		return "unsupported"
	case PowerUnauthorized:
		return "unauthorized"
	case PowerOff:
		return "powered-off"
	case PowerOn:
		return "powered-on"
	default:
		return "unknown"
	}
}

// AdapterStateChanged reports a power-state transition.
type AdapterStateChanged struct {
	State PowerState
	Err   error
}

// Advertisement is a single discovery sighting.
type Advertisement struct {
	Device Device
}

// ScanStopped reports that the platform ended a scan on its own.
type ScanStopped struct {
	Err error
}

// Connected reports a successful connect.
type Connected struct {
	Conn Connection
}

// ConnectFailed reports a failed connect attempt.
type ConnectFailed struct {
	ID  PeripheralID
	Err error
}

// Disconnected reports a dropped or cancelled link.
type Disconnected struct {
	ID  PeripheralID
	Err error
}

// ServicesDiscovered carries the service list of a connected peripheral.
type ServicesDiscovered struct {
	ID       PeripheralID
	Services []Service
	Err      error
}

// ServicesInvalidated reports that the peripheral changed its GATT layout.
type ServicesInvalidated struct {
	ID       PeripheralID
	Services []uuid.UUID
}

// CharacteristicsDiscovered carries the characteristics of one service.
type CharacteristicsDiscovered struct {
	ID              PeripheralID
	Service         Service
	Characteristics []Characteristic
	Err             error
}

// ValueUpdated carries a notification on a characteristic.
type ValueUpdated struct {
	ID     PeripheralID
	CharID uuid.UUID
	Value  []byte
	Err    error
}

// WriteCompleted reports the outcome of a write with response, or the
// failure of a write without response.
type WriteCompleted struct {
	ID     PeripheralID
	CharID uuid.UUID
	Err    error
}

func (AdapterStateChanged) isEvent()       {}
func (Advertisement) isEvent()             {}
func (ScanStopped) isEvent()               {}
func (Connected) isEvent()                 {}
func (ConnectFailed) isEvent()             {}
func (Disconnected) isEvent()              {}
func (ServicesDiscovered) isEvent()        {}
func (ServicesInvalidated) isEvent()       {}
func (CharacteristicsDiscovered) isEvent() {}
func (ValueUpdated) isEvent()              {}
func (WriteCompleted) isEvent()            {}

// Commands marshalled from public entry points onto the loop.
type (
	setEnabledCmd  struct{ enabled bool }
	setSelectedCmd struct{ id PeripheralID }
	sendCmd        struct {
		data       []byte
		channel    string
		requireAck bool
		reply      chan error
	}
	syncCmd   struct{ done chan struct{} }
	sweepTick struct{}
)

func (setEnabledCmd) isEvent()  {}
func (setSelectedCmd) isEvent() {}
func (sendCmd) isEvent()        {}
func (syncCmd) isEvent()        {}
func (sweepTick) isEvent()      {}

// eventQueue is an unbounded FIFO. Pushing never blocks, which keeps platform
// callback threads from stalling during advertisement storms.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	ev := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return ev, true
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *eventQueue) ready() <-chan struct{} {
	return q.signal
}
