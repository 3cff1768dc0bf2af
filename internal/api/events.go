package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nerrad567/homecore/internal/history"
)

// eventFire publishes event_name with the optional JSON event_data payload.
// Listeners run before the response is written. Malformed event_data is
// rejected before anything is fired.
func (s *Server) eventFire(r *http.Request) reply {
	name := r.PostForm.Get("event_name")
	if name == "" {
		return clientError("Missing parameter: event_name.")
	}

	var data any
	if raw := r.PostForm.Get("event_data"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return clientError(fmt.Sprintf("Invalid event_data: %v.", err))
		}
	}

	s.bus.Fire(r.Context(), name, data)

	return ok(fmt.Sprintf("Event %s fired.", name), map[string]any{
		"event_name": name,
	})
}

// stateHistory returns recorded snapshots of one entity, newest first.
func (s *Server) stateHistory(r *http.Request) reply {
	category := r.PostForm.Get("category")
	if category == "" {
		return clientError("Missing parameter: category.")
	}
	limit, valid := formInt(r, "limit")
	if !valid {
		return clientError("Invalid parameter: limit.")
	}

	entries, err := s.history.Get(r.Context(), category, limit)
	if err != nil {
		s.logger.Error("reading state history", "category", category, "error", err)
		return clientError("Cannot read history.")
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	return ok("History of "+category, map[string]any{
		"category": category,
		"history":  entries,
	})
}

// eventLog returns recorded non-state events, newest first.
func (s *Server) eventLog(r *http.Request) reply {
	limit, validLimit := formInt(r, "limit")
	offset, validOffset := formInt(r, "offset")
	if !validLimit || !validOffset {
		return clientError("Invalid parameter: limit and offset must be non-negative integers.")
	}

	records, err := s.events.ListEvents(r.Context(), history.EventFilter{
		Type:   r.PostForm.Get("event_type"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("reading event log", "error", err)
		return clientError("Cannot read event log.")
	}
	if records == nil {
		records = []history.EventRecord{}
	}

	return ok("Event log", map[string]any{
		"events": records,
	})
}
