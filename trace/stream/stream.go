// Package stream provides a durable, subscribable trace.Sink: a small
// publish/subscribe bus so multiple consumers (a UI, a persistence layer,
// an eval harness) can observe the same TraceEvent stream without the
// orchestrator knowing how many listeners exist. Grounded in the
// subscriber/bus idiom of
// _examples/goadesign-goa-ai/runtime/agent/stream/stream.go and
// hooks/bus.go, adapted to forward trace.Event rather than that
// codebase's hooks.Event catalog. Slow subscribers are rate-limited rather
// than allowed to block publication, using golang.org/x/time/rate the way
// this codebase's rate-limiting middleware does for provider calls.
package stream

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/deckrun/deckrun/trace"
)

// Subscription is a handle returned by Bus.Subscribe; call Close to stop
// receiving events.
type Subscription struct {
	ch     chan trace.Event
	bus    *Bus
	id     uint64
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

// Events returns the channel events are delivered on. The channel is
// closed when Close is called.
func (s *Subscription) Events() <-chan trace.Event { return s.ch }

type subscriber struct {
	ch      chan trace.Event
	limiter *rate.Limiter
}

// Bus fans a single trace.Sink out to any number of subscribers.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber
	bufLen int
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferLen sets the per-subscriber channel buffer length (default 64).
func WithBufferLen(n int) Option {
	return func(b *Bus) { b.bufLen = n }
}

// New constructs an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{subs: make(map[uint64]*subscriber), bufLen: 64}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe registers a new subscriber, rate-limited to eventsPerSecond
// sustained, with at most burst events in any single burst. A subscriber that
// cannot keep up drops events rather than blocking Sink.
func (b *Bus) Subscribe(eventsPerSecond float64, burst int) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{
		ch:      make(chan trace.Event, b.bufLen),
		limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), burst),
	}
	b.subs[id] = sub
	return &Subscription{ch: sub.ch, bus: b, id: id}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Sink returns a trace.Sink that fans events out to every live subscriber.
// Subscribers over their rate limit, or with a full buffer, silently drop
// the event rather than block the publisher.
func (b *Bus) Sink() trace.Sink {
	return func(ev trace.Event) {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, sub := range b.subs {
			if !sub.limiter.Allow() {
				continue
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}

// Chain returns a trace.Sink that invokes both sinks in order, for
// composing the bus's sink with e.g. an OpenTelemetry-span-emitting sink.
func Chain(sinks ...trace.Sink) trace.Sink {
	return func(ev trace.Event) {
		for _, s := range sinks {
			if s != nil {
				s(ev)
			}
		}
	}
}

// WaitClosed blocks until ctx is done, for callers that want to keep a
// subscriber-draining goroutine alive until shutdown.
func WaitClosed(ctx context.Context) {
	<-ctx.Done()
}
