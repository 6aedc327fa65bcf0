package ble

import "github.com/chaz8081/wearlink/internal/eventbus"

// Adapter power and scan control. Runs on the loop.

func (m *Manager) onAdapterState(ev AdapterStateChanged) {
	prev := m.power
	m.power = ev.State
	switch ev.State {
	case PowerOn:
		m.log.Info("[BLE] adapter powered on")
	case PowerOff:
		m.log.Warn("[BLE] bluetooth is powered off")
	case PowerUnauthorized:
		m.log.Warn("[BLE] bluetooth authorization missing")
	case PowerUnsupported:
		m.log.Warn("[BLE] bluetooth not supported on this device", "error", ev.Err)
	default:
		m.log.Debug("[BLE] adapter state", "state", ev.State)
	}
	if prev != ev.State {
		m.publish(eventbus.Event{Type: eventbus.TypeAdapterState, State: ev.State.String(), Err: ev.Err})
	}
	if ev.State == PowerOn && m.enabled && m.session == nil {
		m.startScan()
	}
}

func (m *Manager) setEnabled(enabled bool) {
	m.enabled = enabled
	if enabled {
		m.log.Info("[BLE] enabled")
	} else {
		m.log.Info("[BLE] disabled")
	}

	if enabled && m.power == PowerOn && m.session == nil {
		m.startScan()
		return
	}
	if !enabled {
		m.stopScan()
		if m.session != nil {
			m.cancelSession(nil)
		}
	}
}

func (m *Manager) startScan() {
	if m.adapter.Scanning() {
		m.log.Warn("[BLE] already scanning")
		return
	}
	if err := m.adapter.StartScan(m.opts.Services); err != nil {
		m.log.Error("[BLE] failed to start scan", "error", err)
		return
	}
	m.log.Info("[BLE] scan initiated")
}

// onScanStopped resumes scanning when the platform ends a scan the manager
// still wants. A startScan issued while the previous scan was winding down
// was a no-op, so this is where it takes effect.
func (m *Manager) onScanStopped(ev ScanStopped) {
	if ev.Err != nil {
		// Not restarted: a scan that fails on start would fail again at once.
		m.log.Warn("[BLE] scan stopped", "error", ev.Err)
		return
	}
	m.log.Debug("[BLE] scan ended")
	if m.enabled && m.power == PowerOn && m.session == nil {
		m.startScan()
	}
}

func (m *Manager) stopScan() {
	if !m.adapter.Scanning() {
		return
	}
	if err := m.adapter.StopScan(); err != nil {
		m.log.Warn("[BLE] failed to stop scan", "error", err)
	}
}
