package telemetry

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/homecore/internal/eventbus"
	"github.com/nerrad567/homecore/internal/state"
)

// FieldState tags the value parsed from the entity's state.
const FieldState = "state"

// Sink receives numeric entity values. *influxdb.Client satisfies it.
type Sink interface {
	WriteEntityValue(category, field string, value float64, ts time.Time)
}

// Writer forwards numeric entity values to a Sink.
type Writer struct {
	sink Sink

	mu  sync.Mutex
	sub *eventbus.Subscription
}

// NewWriter creates a writer. Each state_changed event is written from the
// record it carries, stamped with that record's last_changed.
func NewWriter(sink Sink) *Writer {
	return &Writer{sink: sink}
}

// Attach starts listening for state_changed on bus.
func (w *Writer) Attach(bus *eventbus.Bus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub == nil {
		w.sub = bus.Listen(eventbus.EventStateChanged, w.handle)
	}
}

// Detach stops listening.
func (w *Writer) Detach(bus *eventbus.Bus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub != nil {
		bus.RemoveListener(w.sub)
		w.sub = nil
	}
}

func (w *Writer) handle(_ context.Context, e eventbus.Event) error {
	change, ok := e.Data.(state.ChangedEvent)
	if !ok {
		return fmt.Errorf("telemetry: unexpected state_changed payload %T", e.Data)
	}
	st := change.New
	for _, v := range Values(st) {
		w.sink.WriteEntityValue(st.Category, v.Field, v.Value, st.LastChanged)
	}
	return nil
}

// Value is one numeric field of an entity.
type Value struct {
	Field string
	Value float64
}

// Values extracts the numeric fields of st. The state comes first, then
// attributes in key order.
func Values(st state.State) []Value {
	var out []Value
	if f, ok := parseNumber(st.State); ok {
		out = append(out, Value{Field: FieldState, Value: f})
	}

	keys := make([]string, 0, len(st.Attributes))
	for k := range st.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if f, ok := numeric(st.Attributes[k]); ok {
			out = append(out, Value{Field: k, Value: f})
		}
	}
	return out
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return numeric(float64(n))
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
