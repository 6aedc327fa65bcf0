// Package bridge relays text between a local stream and the wearable's
// named channels. Each input line becomes one Send on the transmit channel;
// every data.received payload is copied to the output.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/chaz8081/wearlink/internal/eventbus"
)

// Sender is the transport the bridge writes to. *ble.Manager implements it.
type Sender interface {
	Send(ctx context.Context, data []byte, channel string, requireAck bool) error
}

// Options configures a Bridge.
type Options struct {
	Channel    string // transmit channel for input lines
	RequireAck bool
	Logger     *slog.Logger
}

// Bridge relays lines to a Sender and received data to a writer.
type Bridge struct {
	sender Sender
	opts   Options
	log    *slog.Logger

	mu  sync.Mutex // serializes writes to out
	out io.Writer
}

// New creates a Bridge backed by the given sender.
// Panics if sender is nil (programmer error).
func New(sender Sender, out io.Writer, opts Options) *Bridge {
	if sender == nil {
		panic("bridge: New called with nil sender")
	}
	if out == nil {
		out = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bridge{sender: sender, opts: opts, log: opts.Logger, out: out}
}

// Relay sends one line of text. Empty text is not sent.
func (b *Bridge) Relay(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return b.sender.Send(ctx, []byte(text+"\n"), b.opts.Channel, b.opts.RequireAck)
}

// Pump relays r line by line until r is exhausted or ctx is done. A line
// that cannot be sent is logged and dropped; only read and context errors
// end the pump.
func (b *Bridge) Pump(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("bridge: reading input: %w", err)
					}
				default:
				}
				return nil
			}
			if err := b.Relay(ctx, line); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				b.log.Warn("line not sent", "channel", b.opts.Channel, "error", err)
			}
		}
	}
}

// HandleEvent is an eventbus.Handler. Received data is written to the
// output; connection changes are logged.
func (b *Bridge) HandleEvent(_ context.Context, e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeDataReceived:
		b.mu.Lock()
		_, err := b.out.Write(e.Data)
		b.mu.Unlock()
		if err != nil {
			b.log.Warn("writing received data", "channel", e.Channel, "error", err)
		}
	case eventbus.TypeConnected:
		b.log.Info("wearable connected", "device", e.DeviceID)
	case eventbus.TypeDisconnected:
		b.log.Info("wearable disconnected", "device", e.DeviceID, "error", e.Err)
	}
}
