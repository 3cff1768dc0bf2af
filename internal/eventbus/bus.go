package eventbus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MatchAll registers a listener for every event type.
const MatchAll = "*"

// Well-known event types.
const (
	EventHomeStart    = "homecore_start"
	EventHomeStop     = "homecore_stop"
	EventStateChanged = "state_changed"
)

// Event is a single occurrence delivered to listeners.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"event_type"`
	Data      any       `json:"data,omitempty"`
	TimeFired time.Time `json:"time_fired"`
}

// Listener handles an event. A returned error is logged by the bus and
// never reaches the firer.
type Listener func(ctx context.Context, event Event) error

// Subscription is the handle returned by Listen and ListenOnce.
type Subscription struct {
	eventType string
	seq       uint64
	once      bool
	fn        Listener

	claimed atomic.Bool // once listeners: set by the single winning Fire
	removed atomic.Bool
}

// EventType returns the event type the subscription was registered for.
func (s *Subscription) EventType() string { return s.eventType }

// Once reports whether the subscription removes itself after one call.
func (s *Subscription) Once() bool { return s.once }

// Logger is the logging interface used by the bus.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report listener failures.
func WithLogger(l Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithObservability attaches OpenTelemetry instrumentation.
func WithObservability(o *Observability) Option {
	return func(b *Bus) {
		b.obs = o
	}
}

// Bus is a synchronous publish/subscribe hub keyed by event type.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The registry lock is never held while a listener runs, so listeners may
//     call back into the bus.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]*Subscription
	seq       atomic.Uint64

	logger Logger
	obs    *Observability
	now    func() time.Time
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		listeners: make(map[string][]*Subscription),
		logger:    noopLogger{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Listen registers listener for eventType until it is removed.
// Use MatchAll to receive every event.
func (b *Bus) Listen(eventType string, listener Listener) *Subscription {
	return b.add(eventType, listener, false)
}

// ListenOnce registers listener for the next eventType event only. The
// subscription is removed after that call even if the listener panics, and
// concurrent Fire calls deliver to it at most once.
func (b *Bus) ListenOnce(eventType string, listener Listener) *Subscription {
	return b.add(eventType, listener, true)
}

func (b *Bus) add(eventType string, listener Listener, once bool) *Subscription {
	sub := &Subscription{
		eventType: eventType,
		seq:       b.seq.Add(1),
		once:      once,
		fn:        listener,
	}

	b.mu.Lock()
	b.listeners[eventType] = append(b.listeners[eventType], sub)
	b.mu.Unlock()

	b.logger.Debug("listener added", "event_type", eventType, "once", once)
	return sub
}

// RemoveListener unregisters sub. Removing a nil, unknown, or already
// removed subscription is a no-op.
func (b *Bus) RemoveListener(sub *Subscription) {
	if sub == nil || !sub.removed.CompareAndSwap(false, true) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.listeners[sub.eventType]
	for i, s := range subs {
		if s != sub {
			continue
		}
		kept := make([]*Subscription, 0, len(subs)-1)
		kept = append(kept, subs[:i]...)
		kept = append(kept, subs[i+1:]...)
		if len(kept) == 0 {
			delete(b.listeners, sub.eventType)
		} else {
			b.listeners[sub.eventType] = kept
		}
		return
	}
}

// Listeners returns the number of registered listeners per event type.
func (b *Bus) Listeners() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	counts := make(map[string]int, len(b.listeners))
	for eventType, subs := range b.listeners {
		counts[eventType] = len(subs)
	}
	return counts
}

// Fire delivers an event to every listener registered for eventType and to
// every MatchAll listener, in registration order, before returning.
//
// A listener that returns an error or panics is logged and delivery moves on
// to the next listener. Nothing is reported to the caller. An empty
// eventType is ignored.
//
// Parameters:
//   - ctx: Passed through to each listener
//   - eventType: Event type to deliver
//   - data: Payload, any JSON-serialisable value or nil
func (b *Bus) Fire(ctx context.Context, eventType string, data any) {
	if eventType == "" {
		b.logger.Warn("ignoring event with empty type")
		return
	}

	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Data:      data,
		TimeFired: b.now(),
	}

	ctx, done := b.obs.fireStarted(ctx, eventType)
	defer done()

	for _, sub := range b.snapshot(eventType) {
		if sub.removed.Load() {
			continue
		}
		if sub.once && !sub.claimed.CompareAndSwap(false, true) {
			continue
		}
		b.invoke(ctx, sub, event)
	}
}

// snapshot copies the listeners for eventType and MatchAll, merged in
// registration order.
func (b *Bus) snapshot(eventType string) []*Subscription {
	b.mu.RLock()
	specific := b.listeners[eventType]
	var wildcard []*Subscription
	if eventType != MatchAll {
		wildcard = b.listeners[MatchAll]
	}
	subs := make([]*Subscription, 0, len(specific)+len(wildcard))
	subs = append(subs, specific...)
	subs = append(subs, wildcard...)
	b.mu.RUnlock()

	if len(specific) > 0 && len(wildcard) > 0 {
		sort.Slice(subs, func(i, j int) bool { return subs[i].seq < subs[j].seq })
	}
	return subs
}

func (b *Bus) invoke(ctx context.Context, sub *Subscription, event Event) {
	start := time.Now()
	var err error

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrListenerPanic, r)
		}
		if sub.once {
			b.RemoveListener(sub)
		}
		if err != nil {
			lerr := &ListenerError{EventType: event.Type, EventID: event.ID, Err: err}
			b.logger.Error("listener failed", "event_type", event.Type, "event_id", event.ID, "error", lerr)
		}
		b.obs.listenerDone(ctx, event.Type, time.Since(start), err)
	}()

	err = sub.fn(ctx, event)
}
