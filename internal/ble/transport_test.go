package ble

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/chaz8081/wearlink/internal/eventbus"
)

func readyHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, nil)
	h.enable(true)
	h.advertise("A", -60)
	h.establish(t, "A")
	return h
}

func TestSendChunksByMaxWriteLength(t *testing.T) {
	h := readyHarness(t)
	rx := h.chars[SerialRXCharUUID]
	rx.maxLen = 182

	data := bytes.Repeat([]byte("x"), 500)
	if err := h.m.send(data, "serial-rx", true); err != nil {
		t.Fatalf("send() error = %v", err)
	}

	writes := rx.written()
	if len(writes) != 3 {
		t.Fatalf("writes = %d, want 3", len(writes))
	}
	for i, want := range []int{182, 182, 136} {
		if len(writes[i]) != want {
			t.Errorf("chunk %d length = %d, want %d", i, len(writes[i]), want)
		}
		if !rx.acks[i] {
			t.Errorf("chunk %d sent without response, want with response", i)
		}
	}
	if got := bytes.Join(writes, nil); !bytes.Equal(got, data) {
		t.Error("reassembled chunks do not match the payload")
	}
}

func TestSendDefaultMaxWriteLength(t *testing.T) {
	h := readyHarness(t)
	rx := h.chars[SerialRXCharUUID]
	rx.maxLen = 0

	if err := h.m.send(make([]byte, 45), "serial-rx", false); err != nil {
		t.Fatalf("send() error = %v", err)
	}
	if got := len(rx.written()); got != 3 {
		t.Errorf("writes = %d, want 3 chunks of at most %d bytes", got, DefaultMaxWriteLength)
	}
}

func TestSendEmptyPayload(t *testing.T) {
	h := readyHarness(t)

	if err := h.m.send(nil, "serial-rx", false); err != nil {
		t.Fatalf("send(nil) error = %v", err)
	}
	if got := len(h.chars[SerialRXCharUUID].written()); got != 0 {
		t.Errorf("send(nil) produced %d writes, want 0", got)
	}
}

func TestSendWithoutSession(t *testing.T) {
	h := newHarness(t, nil)

	err := h.m.send([]byte("hi"), "serial-rx", false)
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("send() error = %v, want ErrNoSession", err)
	}
}

func TestSendUnknownChannel(t *testing.T) {
	h := readyHarness(t)

	err := h.m.send([]byte("hi"), "nope", false)
	if !errors.Is(err, ErrChannelUnavailable) {
		t.Fatalf("send() error = %v, want ErrChannelUnavailable", err)
	}
	var chErr *ChannelError
	if !errors.As(err, &chErr) || chErr.Channel != "nope" {
		t.Errorf("send() error = %v, want a ChannelError for %q", err, "nope")
	}
}

func TestSendWriteFailureContinues(t *testing.T) {
	h := readyHarness(t)
	rx := h.chars[SerialRXCharUUID]
	rx.failOn = map[int]bool{1: true}

	if err := h.m.send(make([]byte, 60), "serial-rx", false); err != nil {
		t.Fatalf("send() error = %v, want nil", err)
	}
	if rx.calls != 3 {
		t.Errorf("write attempts = %d, want 3", rx.calls)
	}
	if got := len(rx.written()); got != 2 {
		t.Errorf("successful writes = %d, want 2", got)
	}
	if !strings.Contains(h.logs.String(), "write failed") {
		t.Error("expected the failed chunk to be logged")
	}
	if !h.m.IsConnected() {
		t.Error("a failed chunk should not tear down the session")
	}
}

func TestSendHonoursContext(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Nothing pumps the loop, so only the context can end the call.
	err := h.m.Send(ctx, []byte("hi"), "serial-rx", false)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Send() error = %v, want context.Canceled", err)
	}
}

func TestSendThroughRun(t *testing.T) {
	a := newMockAdapter()
	bus := &recorder{}
	opts := DefaultManagerOptions()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := NewManager(a, bus, opts)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(runCtx) }()

	// Sync returns once Run has enabled the adapter and drained the queue.
	if err := m.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	m.SetEnabled(true)
	a.emit(Advertisement{Device: Device{ID: "A", Name: "monocle", RSSI: -50}})
	a.emit(Connected{Conn: &mockConnection{id: "A"}})
	a.emit(ServicesDiscovered{ID: "A", Services: []Service{mockService{SerialServiceUUID}, mockService{DataServiceUUID}}})
	rx := newMockCharacteristic(SerialRXCharUUID)
	a.emit(CharacteristicsDiscovered{ID: "A", Service: mockService{SerialServiceUUID}, Characteristics: []Characteristic{
		rx, newMockCharacteristic(SerialTXCharUUID),
	}})
	a.emit(CharacteristicsDiscovered{ID: "A", Service: mockService{DataServiceUUID}, Characteristics: []Characteristic{
		newMockCharacteristic(DataRXCharUUID), newMockCharacteristic(DataTXCharUUID),
	}})
	if err := m.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if !m.IsConnected() {
		t.Fatalf("IsConnected() = false, state %v", m.State())
	}
	if err := m.SendText(ctx, "hello from the host, forty bytes long!!", "serial-rx"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if got := len(rx.written()); got != 2 {
		t.Errorf("writes = %d, want 2", got)
	}

	stop()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-ctx.Done():
		t.Fatal("Run() did not return after cancel")
	}

	if m.IsConnected() {
		t.Error("IsConnected() = true after Run returned")
	}
	if got := len(bus.ofType(eventbus.TypeDisconnected)); got != 1 {
		t.Errorf("disconnected events = %d, want 1", got)
	}
	if err := m.Send(ctx, []byte("late"), "serial-rx", false); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Run error = %v, want ErrClosed", err)
	}
}

func TestRunAdapterUnavailable(t *testing.T) {
	a := newMockAdapter()
	a.enableErr = errors.New("no radio")
	bus := &recorder{}
	opts := DefaultManagerOptions()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := NewManager(a, bus, opts)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	err = m.Run(context.Background())
	if !errors.Is(err, ErrAdapterUnavailable) {
		t.Fatalf("Run() error = %v, want ErrAdapterUnavailable", err)
	}
	states := bus.ofType(eventbus.TypeAdapterState)
	if len(states) != 1 || states[0].State != "unsupported" {
		t.Errorf("adapter.state events = %+v, want one unsupported", states)
	}
}
