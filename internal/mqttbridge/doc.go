// Package mqttbridge mirrors the homecore event bus onto MQTT and accepts
// commands from it.
//
// Outbound, every state_changed event publishes the entity's snapshot,
// retained, on {prefix}/state/{category}; every other event publishes its
// id, type, data and fire time on {prefix}/event/{event_type}.
//
// Inbound, {prefix}/command/state/{category} carries
// {"state": "...", "attributes": {...}} and is applied with Machine.Set;
// {prefix}/command/event/{event_type} carries optional JSON event data and
// is fired on the bus. Malformed commands are logged and dropped.
package mqttbridge
