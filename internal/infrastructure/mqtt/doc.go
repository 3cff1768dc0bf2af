// Package mqtt connects homecore to an MQTT broker.
//
// It wraps paho.mqtt.golang with the pieces the rest of homecore needs:
//   - connection with auto-reconnect and a retained online/offline status
//     message (Last Will covers crashes)
//   - publish with the configured QoS
//   - subscriptions that are restored after every reconnect
//   - topic builders rooted at mqtt.topic_prefix
//
// # Topics
//
//	{prefix}/status                     retained online/offline status
//	{prefix}/state/{category}           retained entity snapshot
//	{prefix}/event/{event_type}         fired events
//	{prefix}/command/state/{category}   inbound state changes
//	{prefix}/command/event/{event_type} inbound event fires
//
// Categories and event types are single topic levels, so they may not
// contain '/', '+' or '#'.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Publish(client.Topics().State("light.kitchen"), payload, true)
package mqtt
