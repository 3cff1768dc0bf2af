package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix roots every topic when mqtt.topic_prefix is empty.
const DefaultTopicPrefix = "homecore"

// Topics builds homecore topic names under one prefix.
type Topics struct {
	prefix string
}

// NewTopics returns builders rooted at prefix. Trailing slashes are
// trimmed and an empty prefix becomes DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string { return t.prefix }

// Status is the retained online/offline topic.
//
// Example: homecore/status
func (t Topics) Status() string {
	return t.prefix + "/status"
}

// State is the retained snapshot topic for one entity.
//
// Example: homecore/state/light.kitchen
func (t Topics) State(category string) string {
	return fmt.Sprintf("%s/state/%s", t.prefix, category)
}

// Event is the topic fired events of eventType are mirrored to.
//
// Example: homecore/event/doorbell
func (t Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", t.prefix, eventType)
}

// StateCommand is the inbound topic that changes one entity.
//
// Example: homecore/command/state/light.kitchen
func (t Topics) StateCommand(category string) string {
	return fmt.Sprintf("%s/command/state/%s", t.prefix, category)
}

// EventCommand is the inbound topic that fires one event type.
//
// Example: homecore/command/event/doorbell
func (t Topics) EventCommand(eventType string) string {
	return fmt.Sprintf("%s/command/event/%s", t.prefix, eventType)
}

// AllStateCommands matches every inbound state command.
func (t Topics) AllStateCommands() string {
	return t.StateCommand("+")
}

// AllEventCommands matches every inbound event command.
func (t Topics) AllEventCommands() string {
	return t.EventCommand("+")
}

// CommandTarget splits an inbound command topic into its kind ("state" or
// "event") and target name. ok is false for topics outside the command
// tree.
func (t Topics) CommandTarget(topic string) (kind, name string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix+"/command/")
	if !found {
		return "", "", false
	}
	kind, name, found = strings.Cut(rest, "/")
	if !found || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	if kind != "state" && kind != "event" {
		return "", "", false
	}
	return kind, name, true
}

// ValidateSegment checks that s can be used as a single topic level.
func ValidateSegment(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty segment", ErrInvalidTopic)
	}
	if strings.ContainsAny(s, "/+#") {
		return fmt.Errorf("%w: %q contains '/', '+' or '#'", ErrInvalidTopic, s)
	}
	return nil
}
