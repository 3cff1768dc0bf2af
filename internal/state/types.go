package state

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// TimeFormat is the layout of last_changed in every external representation.
const TimeFormat = "15:04:05 02-01-2006"

// State is the current value of one entity.
type State struct {
	// Category identifies the entity, e.g. "light.kitchen".
	Category string

	// State is the entity's current value, e.g. "on".
	State string

	// Attributes holds free-form detail such as brightness or temperature.
	Attributes map[string]any

	// LastChanged is when the entity was last Set.
	LastChanged time.Time
}

// stateJSON is the wire shape of State.
type stateJSON struct {
	Category    string         `json:"category"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged string         `json:"last_changed"`
}

// MarshalJSON renders last_changed as "HH:MM:SS DD-MM-YYYY" and never emits
// null attributes.
func (s State) MarshalJSON() ([]byte, error) {
	attrs := s.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	return json.Marshal(stateJSON{
		Category:    s.Category,
		State:       s.State,
		Attributes:  attrs,
		LastChanged: s.LastChanged.Format(TimeFormat),
	})
}

// UnmarshalJSON accepts the form produced by MarshalJSON.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw stateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var changed time.Time
	if raw.LastChanged != "" {
		t, err := time.ParseInLocation(TimeFormat, raw.LastChanged, time.Local)
		if err != nil {
			return fmt.Errorf("parsing last_changed %q: %w", raw.LastChanged, err)
		}
		changed = t
	}

	*s = State{
		Category:    raw.Category,
		State:       raw.State,
		Attributes:  raw.Attributes,
		LastChanged: changed,
	}
	return nil
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	s.Attributes = deepCopyMap(s.Attributes)
	return s
}

// ChangedEvent is the payload of the state_changed event.
//
// Old and New are copies taken under the store lock when the change was
// committed, so listeners see this change even if another Set has landed
// since. Listeners share one event and must not modify it.
type ChangedEvent struct {
	Category string `json:"category"`
	OldState string `json:"old_state"`
	NewState string `json:"new_state"`

	// Old is the previous record, nil when the entity was created.
	Old *State `json:"old"`

	// New is the record as committed.
	New State `json:"new"`
}

// Created reports whether the change created the entity.
func (e ChangedEvent) Created() bool {
	return e.Old == nil
}

// deepCopyMap copies m and every nested map or slice inside it.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue copies maps, slices and arrays of any element type at any
// depth. Pointers, channels, funcs and struct values are shared.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case nil, string, bool, float64, int, int64:
		return v
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return deepCopyReflect(reflect.ValueOf(v)).Interface()
	}
}

func deepCopyReflect(rv reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return rv
		}
		cpy := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			cpy.SetMapIndex(iter.Key(), deepCopyReflect(iter.Value()))
		}
		return cpy
	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}
		cpy := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := range rv.Len() {
			cpy.Index(i).Set(deepCopyReflect(rv.Index(i)))
		}
		return cpy
	case reflect.Array:
		cpy := reflect.New(rv.Type()).Elem()
		for i := range rv.Len() {
			cpy.Index(i).Set(deepCopyReflect(rv.Index(i)))
		}
		return cpy
	case reflect.Interface:
		if rv.IsNil() {
			return rv
		}
		cpy := reflect.New(rv.Type()).Elem()
		cpy.Set(deepCopyReflect(rv.Elem()))
		return cpy
	default:
		return rv
	}
}
