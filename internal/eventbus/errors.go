package eventbus

import (
	"errors"
	"fmt"
)

// ErrListenerPanic wraps the value recovered from a panicking listener.
var ErrListenerPanic = errors.New("eventbus: listener panicked")

// ListenerError describes a listener that failed while handling an event.
type ListenerError struct {
	EventType string
	EventID   string
	Err       error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("eventbus: listener for %q failed: %v", e.EventType, e.Err)
}

func (e *ListenerError) Unwrap() error {
	return e.Err
}
