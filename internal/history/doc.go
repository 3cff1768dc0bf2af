// Package history persists what happened on the bus.
//
// The Recorder listens to every event. state_changed events become entity
// snapshots in state_history; all other events go to event_log. Both tables
// are pruned with the configured retention at startup.
package history
