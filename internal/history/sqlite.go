package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/homecore/internal/eventbus"
	"github.com/nerrad567/homecore/internal/state"
)

// timestampLayout is fixed-width UTC so stored values sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteRepository implements Repository and EventLog on the state_history
// and event_log tables.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record inserts a snapshot of s.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - s: Entity state to persist
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) Record(ctx context.Context, s state.State) error {
	if s.Category == "" {
		return fmt.Errorf("category is required")
	}

	attrs := s.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshalling attributes: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO state_history (category, state, attributes, last_changed, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		s.Category,
		s.State,
		string(attrsJSON),
		formatTimestamp(s.LastChanged),
		formatTimestamp(r.now()),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// Get returns recent snapshots for category, newest first.
func (r *SQLiteRepository) Get(ctx context.Context, category string, limit int) ([]Entry, error) {
	if category == "" {
		return nil, fmt.Errorf("category is required")
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, category, state, attributes, last_changed, recorded_at
		 FROM state_history
		 WHERE category = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		category, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e                                Entry
			attrsJSON, changedAt, recordedAt string
		)
		if err := rows.Scan(&e.ID, &e.State.Category, &e.State.State, &attrsJSON, &changedAt, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if err := json.Unmarshal([]byte(attrsJSON), &e.State.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshalling attributes: %w", err)
		}
		changed, err := parseTimestamp(changedAt)
		if err != nil {
			return nil, err
		}
		e.State.LastChanged = changed.Local()
		if e.RecordedAt, err = parseTimestamp(recordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// Prune deletes snapshots recorded before now-olderThan.
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	return r.prune(ctx, "DELETE FROM state_history WHERE recorded_at < ?", olderThan)
}

// RecordEvent appends e to the event log.
func (r *SQLiteRepository) RecordEvent(ctx context.Context, e eventbus.Event) error {
	if e.ID == "" || e.Type == "" {
		return fmt.Errorf("event id and type are required")
	}

	var dataJSON *string
	if e.Data != nil {
		b, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("marshalling event data: %w", err)
		}
		s := string(b)
		dataJSON = &s
	}

	firedAt := e.TimeFired
	if firedAt.IsZero() {
		firedAt = r.now()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO event_log (id, event_type, data, fired_at) VALUES (?, ?, ?, ?)",
		e.ID, e.Type, dataJSON, formatTimestamp(firedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting event log: %w", err)
	}
	return nil
}

// ListEvents returns logged events matching filter, newest first.
func (r *SQLiteRepository) ListEvents(ctx context.Context, filter EventFilter) ([]EventRecord, error) {
	limit := clampLimit(filter.Limit)
	offset := max(filter.Offset, 0)

	query := "SELECT id, event_type, data, fired_at FROM event_log"
	var args []any
	if filter.Type != "" {
		query += " WHERE event_type = ?"
		args = append(args, filter.Type)
	}
	query += " ORDER BY fired_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying event log: %w", err)
	}
	defer rows.Close()

	records := make([]EventRecord, 0, limit)
	for rows.Next() {
		var (
			rec      EventRecord
			dataJSON sql.NullString
			firedAt  string
		)
		if err := rows.Scan(&rec.ID, &rec.Type, &dataJSON, &firedAt); err != nil {
			return nil, fmt.Errorf("scanning event log: %w", err)
		}
		if dataJSON.Valid && dataJSON.String != "" {
			if err := json.Unmarshal([]byte(dataJSON.String), &rec.Data); err != nil {
				return nil, fmt.Errorf("unmarshalling event data: %w", err)
			}
		}
		if rec.FiredAt, err = parseTimestamp(firedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event log: %w", err)
	}
	return records, nil
}

// PruneEvents deletes logged events fired before now-olderThan.
func (r *SQLiteRepository) PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	return r.prune(ctx, "DELETE FROM event_log WHERE fired_at < ?", olderThan)
}

// ApplyRetention prunes both state history and the event log. A zero
// retention keeps everything.
func (r *SQLiteRepository) ApplyRetention(ctx context.Context, retention time.Duration) (states, events int64, err error) {
	if retention <= 0 {
		return 0, 0, nil
	}
	if states, err = r.Prune(ctx, retention); err != nil {
		return 0, 0, err
	}
	if events, err = r.PruneEvents(ctx, retention); err != nil {
		return states, 0, err
	}
	return states, events, nil
}

func (r *SQLiteRepository) prune(ctx context.Context, query string, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	result, err := r.db.ExecContext(ctx, query, formatTimestamp(r.now().Add(-olderThan)))
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(value string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	return t, nil
}
