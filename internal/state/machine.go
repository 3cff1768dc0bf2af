package state

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/homecore/internal/eventbus"
)

// Clock returns the time used for last_changed.
type Clock func() time.Time

// Logger is the logging interface used by the machine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the timestamp source. Defaults to time.Now.
func WithClock(c Clock) Option {
	return func(m *Machine) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger sets the machine's logger.
func WithLogger(l Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// Machine holds the current state of every entity keyed by category.
//
// Every Set is applied whole under one lock, so readers never observe a
// state from one call paired with attributes from another. Records are deep
// copied on the way in and out.
//
// All public methods are thread-safe.
type Machine struct {
	mu     sync.RWMutex
	states map[string]State

	bus    *eventbus.Bus
	clock  Clock
	logger Logger
}

// NewMachine creates an empty Machine that announces changes on bus.
// bus may be nil, in which case no events are fired.
func NewMachine(bus *eventbus.Bus, opts ...Option) *Machine {
	m := &Machine{
		states: make(map[string]State),
		bus:    bus,
		clock:  time.Now,
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns a copy of the state for category.
func (m *Machine) Get(category string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[category]
	if !ok {
		return State{}, false
	}
	return s.Clone(), true
}

// Lookup is Get with an error: ErrNotFound when category is unknown.
func (m *Machine) Lookup(category string) (State, error) {
	s, ok := m.Get(category)
	if !ok {
		return State{}, ErrNotFound
	}
	return s, nil
}

// Is reports whether category exists and currently equals value.
func (m *Machine) Is(category, value string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[category]
	return ok && s.State == value
}

// Set records newState for category, creating the entity when unknown.
//
// A nil attributes map keeps the existing attributes; a non-nil map replaces
// them. LastChanged is taken from the clock on every call. The update is
// applied whole under the store lock, and state_changed is fired only after
// the lock has been released, carrying copies of the old and new records.
//
// Parameters:
//   - ctx: Passed to the state_changed listeners
//   - category: Entity key, must not be empty
//   - newState: New state value
//   - attributes: Replacement attributes, or nil to keep the current ones
//
// Returns:
//   - error: ErrInvalidCategory for an empty category
func (m *Machine) Set(ctx context.Context, category, newState string, attributes map[string]any) error {
	if category == "" {
		return ErrInvalidCategory
	}

	m.mu.Lock()
	old, exists := m.states[category]
	next := State{
		Category:    category,
		State:       newState,
		Attributes:  old.Attributes,
		LastChanged: m.clock(),
	}
	if attributes != nil {
		next.Attributes = deepCopyMap(attributes)
	}
	m.states[category] = next

	change := ChangedEvent{
		Category: category,
		OldState: old.State,
		NewState: newState,
		New:      next.Clone(),
	}
	if exists {
		prev := old.Clone()
		change.Old = &prev
	}
	m.mu.Unlock()

	m.logger.Debug("state set", "category", category, "old_state", old.State, "new_state", newState)

	if m.bus != nil {
		m.bus.Fire(ctx, eventbus.EventStateChanged, change)
	}
	return nil
}

// Categories returns every known category sorted case-insensitively.
func (m *Machine) Categories() []string {
	m.mu.RLock()
	keys := make([]string, 0, len(m.states))
	for k := range m.states {
		keys = append(keys, k)
	}
	m.mu.RUnlock()

	sortCategories(keys)
	return keys
}

// All returns a copy of every record, ordered like Categories.
func (m *Machine) All() []State {
	m.mu.RLock()
	all := make([]State, 0, len(m.states))
	for _, s := range m.states {
		all = append(all, s.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return lessCategory(all[i].Category, all[j].Category)
	})
	return all
}

func sortCategories(keys []string) {
	sort.Slice(keys, func(i, j int) bool { return lessCategory(keys[i], keys[j]) })
}

// lessCategory orders case-insensitively, falling back to byte order so the
// result is deterministic for keys differing only in case.
func lessCategory(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la != lb {
		return la < lb
	}
	return a < b
}
