package history

import (
	"context"
	"time"

	"github.com/nerrad567/homecore/internal/eventbus"
	"github.com/nerrad567/homecore/internal/state"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one recorded snapshot of an entity.
type Entry struct {
	ID         int64       `json:"id"`
	State      state.State `json:"state"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// EventRecord is one logged bus event.
type EventRecord struct {
	ID      string    `json:"id"`
	Type    string    `json:"event_type"`
	Data    any       `json:"data,omitempty"`
	FiredAt time.Time `json:"fired_at"`
}

// EventFilter controls which logged events List returns.
type EventFilter struct {
	Type   string // optional: only this event type
	Limit  int    // default 50, max 200
	Offset int
}

// Repository stores entity state snapshots.
type Repository interface {
	// Record appends a snapshot of s.
	Record(ctx context.Context, s state.State) error

	// Get returns up to limit snapshots for category, newest first.
	// limit <= 0 means the default of 50; values above 200 are clamped.
	Get(ctx context.Context, category string, limit int) ([]Entry, error)

	// Prune deletes snapshots recorded more than olderThan ago.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// EventLog stores fired events other than state changes.
type EventLog interface {
	RecordEvent(ctx context.Context, e eventbus.Event) error
	ListEvents(ctx context.Context, filter EventFilter) ([]EventRecord, error)
	PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
