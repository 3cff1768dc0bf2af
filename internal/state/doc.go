// Package state holds the current value of every homecore entity.
//
// An entity is identified by its category (for example "light.kitchen") and
// carries a state string, free-form attributes, and the time it last changed.
// Plugins create entities simply by setting them.
//
// Every Set stamps last_changed and fires a
// state_changed event on the bus with a ChangedEvent payload.
//
//	bus := eventbus.New()
//	m := state.NewMachine(bus)
//	_ = m.Set(ctx, "light.kitchen", "on", map[string]any{"brightness": 200})
//	s, _ := m.Get("light.kitchen")
package state
