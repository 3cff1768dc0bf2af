package api

import "sync"

// flash is the single-slot message shown on the next HTML page load.
// Take clears it, so each message is rendered exactly once.
type flash struct {
	mu      sync.Mutex
	message string
}

// Set replaces the pending message.
func (f *flash) Set(message string) {
	f.mu.Lock()
	f.message = message
	f.mu.Unlock()
}

// Take returns the pending message and clears it.
func (f *flash) Take() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg := f.message
	f.message = ""
	return msg
}
