//go:build !darwin && !linux

package ble

import "github.com/google/uuid"

// TinyGoAdapter is unavailable on this platform. Enable always fails with
// ErrAdapterUnavailable.
type TinyGoAdapter struct{}

// NewTinyGoAdapter returns an adapter that reports the platform as unsupported.
func NewTinyGoAdapter() *TinyGoAdapter { return &TinyGoAdapter{} }

func (a *TinyGoAdapter) Enable(sink EventSink) error {
	sink(AdapterStateChanged{State: PowerUnsupported, Err: ErrAdapterUnavailable})
	return ErrAdapterUnavailable
}

func (a *TinyGoAdapter) StartScan(_ []uuid.UUID) error      { return ErrAdapterUnavailable }
func (a *TinyGoAdapter) StopScan() error                    { return nil }
func (a *TinyGoAdapter) Scanning() bool                     { return false }
func (a *TinyGoAdapter) Connect(_ PeripheralID) error       { return ErrAdapterUnavailable }
func (a *TinyGoAdapter) CancelConnect(_ PeripheralID) error { return nil }

var _ Adapter = (*TinyGoAdapter)(nil)
