package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nerrad567/homecore/internal/state"
)

// stateCategories lists every known entity key.
func (s *Server) stateCategories(_ *http.Request) reply {
	return ok("State categories", map[string]any{
		"categories": s.machine.Categories(),
	})
}

// stateGet returns the snapshot of one entity. A missing or unknown
// category is a client error.
func (s *Server) stateGet(r *http.Request) reply {
	category := r.PostForm.Get("category")
	if category == "" {
		return clientError("Missing parameter: category.")
	}

	st, err := s.machine.Lookup(category)
	if errors.Is(err, state.ErrNotFound) {
		return clientError(fmt.Sprintf("Unknown category: %s.", category))
	}

	return ok("State of "+category, stateFields(st))
}

// stateChange applies parallel category/new_state lists. Only index-aligned
// pairs are used. Every attributes entry is decoded before the first Set, so
// a malformed one fails the request with nothing applied.
func (s *Server) stateChange(r *http.Request) reply {
	categories := r.PostForm["category"]
	newStates := r.PostForm["new_state"]
	if len(categories) == 0 || len(newStates) == 0 {
		return clientError("Missing parameters: category and new_state are required.")
	}

	n := min(len(categories), len(newStates))
	rawAttrs := r.PostForm["attributes"]
	attrs := make([]map[string]any, n)

	for i := range n {
		if categories[i] == "" {
			return clientError(fmt.Sprintf("Empty category at position %d.", i))
		}
		if i >= len(rawAttrs) || rawAttrs[i] == "" {
			continue
		}
		decoded, err := decodeAttributes(rawAttrs[i])
		if err != nil {
			return clientError(fmt.Sprintf("Invalid attributes for %s: %v.", categories[i], err))
		}
		attrs[i] = decoded
	}

	changed := make([]string, 0, n)
	for i := range n {
		if err := s.machine.Set(r.Context(), categories[i], newStates[i], attrs[i]); err != nil {
			return clientError(fmt.Sprintf("Cannot change %s: %v.", categories[i], err))
		}
		changed = append(changed, categories[i]+"="+newStates[i])
	}

	return ok("States changed: "+strings.Join(changed, ", "), map[string]any{
		"changed": changed,
	})
}

// decodeAttributes parses one attributes entry. JSON null means "not
// supplied"; any other non-object value is rejected.
func decodeAttributes(raw string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	m, isObject := v.(map[string]any)
	if !isObject {
		return nil, errors.New("must be a JSON object")
	}
	return m, nil
}

// stateFields flattens a record into envelope fields.
func stateFields(st state.State) map[string]any {
	attrs := st.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	return map[string]any{
		"category":     st.Category,
		"state":        st.State,
		"attributes":   attrs,
		"last_changed": st.LastChanged.Format(state.TimeFormat),
	}
}
