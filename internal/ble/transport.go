package ble

import (
	"context"
	"slices"

	"github.com/chaz8081/wearlink/internal/ble/protocol"
)

// Send writes data to the named channel, split into chunks no larger than
// the characteristic's current maximum write length. requireAck selects
// write-with-response for every chunk.
//
// Send fails with ErrNoSession when no session is ready and with
// ErrChannelUnavailable when the channel has not been acquired. A failed
// chunk is logged and does not abort the remaining chunks.
func (m *Manager) Send(ctx context.Context, data []byte, channel string, requireAck bool) error {
	reply := make(chan error, 1)
	m.post(sendCmd{
		data:       slices.Clone(data),
		channel:    channel,
		requireAck: requireAck,
		reply:      reply,
	})

	select {
	case err := <-reply:
		return err
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendText sends UTF-8 text on the named channel without acknowledgement.
func (m *Manager) SendText(ctx context.Context, text, channel string) error {
	return m.Send(ctx, []byte(text), channel, false)
}

// send runs on the loop.
func (m *Manager) send(data []byte, channel string, requireAck bool) error {
	if m.session == nil || !m.session.ready() {
		return ErrNoSession
	}
	char, err := m.registry.Lookup(channel)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	size := char.MaxWriteLength(requireAck)
	if size <= 0 {
		size = DefaultMaxWriteLength
	}
	chunks := protocol.ChunkBytes(data, size)

	failed := 0
	for i, chunk := range chunks {
		if err := char.Write(chunk, requireAck); err != nil {
			failed++
			m.log.Warn("[BLE] write failed",
				"error", &ChannelError{Channel: channel, Err: ErrWriteFailed},
				"chunk", i+1,
				"chunks", len(chunks),
				"cause", err,
			)
		}
	}
	m.log.Debug("[BLE] sent", "channel", channel, "bytes", len(data), "chunks", len(chunks), "failed", failed, "ack", requireAck)
	return nil
}
