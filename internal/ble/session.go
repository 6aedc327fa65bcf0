package ble

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// State is the connection state machine's position.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateDiscoveringServices
	StateDiscoveringCharacteristics
	StateReady
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateDiscoveringServices:
		return "discovering-services"
	case StateDiscoveringCharacteristics:
		return "discovering-characteristics"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	default:
		return "invalid"
	}
}

// session is the single active connection attempt. It is created when a
// connect decision is made and discarded on disconnect or failure.
type session struct {
	token   ulid.ULID
	device  Device
	state   State
	conn    Connection
	started time.Time

	// announced is set once the connected event has been published; it
	// guards readiness to once per session and gates the disconnected event.
	announced bool
	// cancelling is set after CancelConnect; the session lives until the
	// platform's Disconnected callback arrives.
	cancelling bool
}

func newSession(d Device, now time.Time) *session {
	return &session{
		token:   ulid.MustNew(ulid.Timestamp(now), rand.Reader),
		device:  d,
		state:   StateConnecting,
		started: now,
	}
}

func (s *session) id() PeripheralID { return s.device.ID }

// ready reports whether the session can carry traffic.
func (s *session) ready() bool {
	return s.state == StateReady && !s.cancelling && s.conn != nil
}
