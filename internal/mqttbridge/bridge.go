package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/homecore/internal/eventbus"
	"github.com/nerrad567/homecore/internal/infrastructure/mqtt"
	"github.com/nerrad567/homecore/internal/state"
)

// commandTimeout bounds the bus work triggered by one inbound command.
const commandTimeout = 10 * time.Second

// Broker is the part of *mqtt.Client the bridge uses.
type Broker interface {
	Topics() mqtt.Topics
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// ErrMalformedCommand wraps every rejected inbound payload.
var ErrMalformedCommand = errors.New("mqttbridge: malformed command")

// eventMessage is the payload published for non-state events.
type eventMessage struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Data      any    `json:"data,omitempty"`
	TimeFired string `json:"time_fired"`
}

// stateCommand is the inbound state change payload.
type stateCommand struct {
	State      *string        `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// Bridge connects one broker session to a bus and state machine.
type Bridge struct {
	broker  Broker
	topics  mqtt.Topics
	machine *state.Machine
	bus     *eventbus.Bus
	logger  Logger

	mu  sync.Mutex
	sub *eventbus.Subscription

	// sent holds the last_changed of the newest snapshot published per
	// category. Nested changes are delivered innermost first, and an older
	// snapshot must not replace a newer retained message.
	sentMu sync.Mutex
	sent   map[string]time.Time
}

// New creates a bridge. Nothing is published or subscribed until Start.
func New(broker Broker, machine *state.Machine, bus *eventbus.Bus, logger Logger) *Bridge {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bridge{
		broker:  broker,
		topics:  broker.Topics(),
		machine: machine,
		bus:     bus,
		logger:  logger,
		sent:    make(map[string]time.Time),
	}
}

// Start subscribes to both command trees and begins mirroring the bus.
// Calling Start on a running bridge is a no-op.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		return nil
	}

	for _, topic := range []string{b.topics.AllStateCommands(), b.topics.AllEventCommands()} {
		if err := b.broker.Subscribe(topic, b.handleCommand); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}

	b.sub = b.bus.Listen(eventbus.MatchAll, b.mirror)
	b.logger.Info("mqtt bridge started", "prefix", b.topics.Prefix())
	return nil
}

// Stop detaches from the bus and drops the command subscriptions.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub == nil {
		return
	}
	b.bus.RemoveListener(b.sub)
	b.sub = nil

	for _, topic := range []string{b.topics.AllStateCommands(), b.topics.AllEventCommands()} {
		if err := b.broker.Unsubscribe(topic); err != nil {
			b.logger.Warn("mqtt bridge unsubscribe failed", "topic", topic, "error", err)
		}
	}
}

// mirror publishes one bus event.
func (b *Bridge) mirror(_ context.Context, e eventbus.Event) error {
	if e.Type == eventbus.EventStateChanged {
		change, ok := e.Data.(state.ChangedEvent)
		if !ok {
			return fmt.Errorf("mqttbridge: unexpected state_changed payload %T", e.Data)
		}
		return b.publishState(change.New)
	}

	if err := mqtt.ValidateSegment(e.Type); err != nil {
		b.logger.Debug("event not mirrored", "event_type", e.Type, "error", err)
		return nil
	}
	return b.broker.PublishJSON(b.topics.Event(e.Type), eventMessage{
		ID:        e.ID,
		EventType: e.Type,
		Data:      e.Data,
		TimeFired: e.TimeFired.UTC().Format(time.RFC3339Nano),
	}, false)
}

func (b *Bridge) publishState(st state.State) error {
	if err := mqtt.ValidateSegment(st.Category); err != nil {
		b.logger.Debug("state not mirrored", "category", st.Category, "error", err)
		return nil
	}

	b.sentMu.Lock()
	defer b.sentMu.Unlock()
	if last, ok := b.sent[st.Category]; ok && st.LastChanged.Before(last) {
		b.logger.Debug("stale state not mirrored", "category", st.Category, "state", st.State)
		return nil
	}
	if err := b.broker.PublishJSON(b.topics.State(st.Category), st, true); err != nil {
		return err
	}
	b.sent[st.Category] = st.LastChanged
	return nil
}

// handleCommand applies one inbound message. Errors are logged by the
// mqtt client and the message is dropped.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	kind, name, ok := b.topics.CommandTarget(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %s", ErrMalformedCommand, topic)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch kind {
	case "state":
		return b.applyState(ctx, name, payload)
	default:
		return b.fireEvent(ctx, name, payload)
	}
}

func (b *Bridge) applyState(ctx context.Context, category string, payload []byte) error {
	var cmd stateCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformedCommand, category, err)
	}
	if cmd.State == nil {
		return fmt.Errorf("%w: %s: missing state", ErrMalformedCommand, category)
	}

	b.logger.Debug("mqtt state command", "category", category, "state", *cmd.State)
	return b.machine.Set(ctx, category, *cmd.State, cmd.Attributes)
}

func (b *Bridge) fireEvent(ctx context.Context, eventType string, payload []byte) error {
	var data any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &data); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrMalformedCommand, eventType, err)
		}
	}

	b.logger.Debug("mqtt event command", "event_type", eventType)
	b.bus.Fire(ctx, eventType, data)
	return nil
}
