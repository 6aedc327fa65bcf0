package ble

import (
	"errors"
	"fmt"
)

// Error taxonomy. None of these are fatal: failures degrade to "not
// connected, will retry if enabled" or a synchronous error to the caller.
var (
	ErrAdapterUnavailable            = errors.New("ble: adapter unavailable")
	ErrConnectionFailed              = errors.New("ble: connection failed")
	ErrServiceDiscoveryFailed        = errors.New("ble: service discovery failed")
	ErrCharacteristicDiscoveryFailed = errors.New("ble: characteristic discovery failed")
	ErrChannelUnavailable            = errors.New("ble: channel unavailable")
	ErrWriteFailed                   = errors.New("ble: write failed")
	ErrNoSession                     = errors.New("ble: no ready session")
	ErrClosed                        = errors.New("ble: manager closed")
)

// ConnectionError records why a session for a peripheral ended.
type ConnectionError struct {
	ID    PeripheralID
	Kind  error // one of the Err* sentinels
	Cause error
}

func (e *ConnectionError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.ID)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.ID, e.Cause)
}

func (e *ConnectionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// ChannelError ties a channel failure to the logical channel name.
type ChannelError struct {
	Channel string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%v (channel %q)", e.Err, e.Channel)
}

func (e *ChannelError) Unwrap() error { return e.Err }
