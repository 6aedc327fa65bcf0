// Package eventbus publishes connection events to external consumers.
//
// Each subscription has its own bounded queue and goroutine, so a handler
// sees events in publish order and a slow handler never stalls the publisher.
// Delivery is at most once: when a subscriber's queue is full the event is
// dropped for that subscriber.
package eventbus

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies the kind of event being published.
type Type string

const (
	TypeConnected      Type = "connected"
	TypeDisconnected   Type = "disconnected"
	TypeDataReceived   Type = "data.received"
	TypeDevicesChanged Type = "devices.changed"
	TypeAdapterState   Type = "adapter.state"
)

// Event is the envelope published on the bus. Only the fields relevant to
// the event type are set.
type Event struct {
	Type     Type
	Time     time.Time
	DeviceID string   // connected
	Channel  string   // data.received
	Data     []byte   // data.received
	Devices  []string // devices.changed
	State    string   // adapter.state
	Err      error    // adapter.state, disconnected
}

// Handler consumes events.
type Handler func(ctx context.Context, e Event)

// DefaultQueueSize is the per-subscriber buffer.
const DefaultQueueSize = 64

type delivery struct {
	ctx   context.Context
	event Event
}

type subscription struct {
	id      uint64
	typ     Type // empty for all events
	handler Handler
	queue   chan delivery
	once    sync.Once
}

func (s *subscription) matches(t Type) bool {
	return s.typ == "" || s.typ == t
}

// Bus is an in-process, goroutine-safe event bus.
type Bus struct {
	mu        sync.RWMutex
	subs      []*subscription
	nextID    atomic.Uint64
	queueSize int
	logger    *slog.Logger
	wg        sync.WaitGroup
	closed    atomic.Bool
	dropped   atomic.Uint64
}

// New creates an event bus. queueSize <= 0 selects DefaultQueueSize.
func New(logger *slog.Logger, queueSize int) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{logger: logger, queueSize: queueSize}
}

// Publish queues an event for every matching subscriber. It never blocks.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if b.closed.Load() {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.matches(e.Type) {
			continue
		}
		select {
		case sub.queue <- delivery{ctx: ctx, event: e}:
		default:
			b.dropped.Add(1)
			b.logger.Warn("event dropped, subscriber queue full",
				"event", string(e.Type),
				"subscription", sub.id,
			)
		}
	}
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(t Type, handler Handler) func() {
	return b.subscribe(t, handler)
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler Handler) func() {
	return b.subscribe("", handler)
}

func (b *Bus) subscribe(t Type, handler Handler) func() {
	sub := &subscription{
		id:      b.nextID.Add(1),
		typ:     t,
		handler: handler,
		queue:   make(chan delivery, b.queueSize),
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return func() {}
	}
	b.subs = append(b.subs, sub)
	b.wg.Add(1)
	b.mu.Unlock()

	go b.run(sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		i := slices.Index(b.subs, sub)
		if i < 0 {
			return
		}
		b.subs = slices.Delete(b.subs, i, i+1)
		sub.once.Do(func() { close(sub.queue) })
	}
}

func (b *Bus) run(sub *subscription) {
	defer b.wg.Done()
	for d := range sub.queue {
		b.invoke(sub, d)
	}
}

func (b *Bus) invoke(sub *subscription, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"panic", r,
			)
		}
	}()
	sub.handler(d.ctx, d.event)
}

// Dropped returns how many deliveries were discarded because a subscriber
// queue was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops accepting events, lets every subscriber drain its queue and
// waits for in-flight handlers. Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.mu.Lock()
	for _, sub := range b.subs {
		sub.once.Do(func() { close(sub.queue) })
	}
	b.subs = nil
	b.mu.Unlock()
	b.wg.Wait()
}
