package history

import (
	"context"
	"fmt"

	"github.com/nerrad567/homecore/internal/eventbus"
	"github.com/nerrad567/homecore/internal/state"
)

// Logger is the logging interface used by the recorder.
type Logger interface {
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}

// Recorder persists bus traffic: entity snapshots on state_changed and every
// other event to the event log.
type Recorder struct {
	states Repository
	events EventLog
	logger Logger

	sub *eventbus.Subscription
}

// NewRecorder creates a recorder. events may be nil to record state only.
func NewRecorder(states Repository, events EventLog, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{
		states: states,
		events: events,
		logger: logger,
	}
}

// Attach starts recording events fired on bus.
func (r *Recorder) Attach(bus *eventbus.Bus) {
	r.sub = bus.Listen(eventbus.MatchAll, r.handle)
	r.logger.Info("history recorder attached")
}

// Detach stops recording.
func (r *Recorder) Detach(bus *eventbus.Bus) {
	bus.RemoveListener(r.sub)
	r.sub = nil
}

func (r *Recorder) handle(ctx context.Context, e eventbus.Event) error {
	if e.Type != eventbus.EventStateChanged {
		if r.events == nil {
			return nil
		}
		return r.events.RecordEvent(ctx, e)
	}

	change, ok := e.Data.(state.ChangedEvent)
	if !ok {
		return fmt.Errorf("history: unexpected state_changed payload %T", e.Data)
	}

	if change.New.Category == "" {
		return fmt.Errorf("history: state_changed for %q carries no record", change.Category)
	}
	return r.states.Record(ctx, change.New)
}
