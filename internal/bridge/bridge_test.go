package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/chaz8081/wearlink/internal/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	data    string
	channel string
	ack     bool
}

// mockSender records Send calls and fails the ones listed in fail.
type mockSender struct {
	mu   sync.Mutex
	sent []sent
	fail map[string]error
}

func (m *mockSender) Send(_ context.Context, data []byte, channel string, requireAck bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.fail[string(data)]; ok {
		return err
	}
	m.sent = append(m.sent, sent{data: string(data), channel: channel, ack: requireAck})
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewPanicsOnNilSender(t *testing.T) {
	assert.Panics(t, func() { New(nil, nil, Options{}) })
}

func TestRelay(t *testing.T) {
	sender := &mockSender{}
	b := New(sender, nil, Options{Channel: "serial-rx", RequireAck: true, Logger: quietLogger()})

	require.NoError(t, b.Relay(context.Background(), "print('hi')"))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, sent{data: "print('hi')\n", channel: "serial-rx", ack: true}, sender.sent[0])
}

func TestRelayEmpty(t *testing.T) {
	sender := &mockSender{}
	b := New(sender, nil, Options{Channel: "serial-rx", Logger: quietLogger()})

	require.NoError(t, b.Relay(context.Background(), ""))
	assert.Empty(t, sender.sent)
}

func TestPumpSendsEachLine(t *testing.T) {
	sender := &mockSender{}
	b := New(sender, nil, Options{Channel: "serial-rx", Logger: quietLogger()})

	err := b.Pump(context.Background(), strings.NewReader("one\n\ntwo\nthree"))
	require.NoError(t, err)

	var got []string
	for _, s := range sender.sent {
		got = append(got, s.data)
	}
	assert.Equal(t, []string{"one\n", "two\n", "three\n"}, got)
}

func TestPumpContinuesAfterSendError(t *testing.T) {
	sender := &mockSender{fail: map[string]error{"two\n": errors.New("no session")}}
	var logs bytes.Buffer
	b := New(sender, nil, Options{Channel: "serial-rx", Logger: slog.New(slog.NewTextHandler(&logs, nil))})

	require.NoError(t, b.Pump(context.Background(), strings.NewReader("one\ntwo\nthree\n")))
	assert.Len(t, sender.sent, 2)
	assert.Contains(t, logs.String(), "line not sent")
}

func TestPumpStopsOnCancel(t *testing.T) {
	sender := &mockSender{}
	b := New(sender, nil, Options{Channel: "serial-rx", Logger: quietLogger()})

	r, w := io.Pipe()
	defer w.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Pump(ctx, r)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPumpReadError(t *testing.T) {
	sender := &mockSender{}
	b := New(sender, nil, Options{Channel: "serial-rx", Logger: quietLogger()})

	r, w := io.Pipe()
	w.CloseWithError(errors.New("stdin gone"))

	err := b.Pump(context.Background(), r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stdin gone")
}

func TestHandleEventWritesReceivedData(t *testing.T) {
	var out bytes.Buffer
	b := New(&mockSender{}, &out, Options{Logger: quietLogger()})

	b.HandleEvent(context.Background(), eventbus.Event{Type: eventbus.TypeDataReceived, Channel: "serial-tx", Data: []byte(">>> ")})
	b.HandleEvent(context.Background(), eventbus.Event{Type: eventbus.TypeConnected, DeviceID: "A"})
	b.HandleEvent(context.Background(), eventbus.Event{Type: eventbus.TypeDataReceived, Channel: "serial-tx", Data: []byte("ok")})

	assert.Equal(t, ">>> ok", out.String())
}

func TestHandleEventViaBus(t *testing.T) {
	var out bytes.Buffer
	b := New(&mockSender{}, &out, Options{Logger: quietLogger()})

	bus := eventbus.New(quietLogger(), 0)
	bus.SubscribeAll(b.HandleEvent)
	bus.Publish(context.Background(), eventbus.Event{Type: eventbus.TypeDataReceived, Data: []byte("hello")})
	bus.Close()

	assert.Equal(t, "hello", out.String())
}
