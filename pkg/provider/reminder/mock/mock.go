// Package mock provides a test double for the reminder package.
//
// Example:
//
//	em := &mock.Emitter{}
//	ctrl := session.New(cfg, idx, provider, em)
//	// ... drive the session ...
//	if em.Count() != 1 { t.Fatal("expected one reminder") }
package mock

import (
	"sync"

	"github.com/MrWong99/japamala/pkg/provider/reminder"
)

// Emitter is a mock implementation of reminder.Emitter that counts calls.
type Emitter struct {
	mu    sync.Mutex
	calls int

	// Signal, if non-nil, receives a value on every Emit without blocking.
	Signal chan struct{}
}

// Emit records the call.
func (e *Emitter) Emit() {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.Signal != nil {
		select {
		case e.Signal <- struct{}{}:
		default:
		}
	}
}

// Count returns the number of Emit calls. Thread-safe.
func (e *Emitter) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Reset clears the recorded calls. Thread-safe.
func (e *Emitter) Reset() {
	e.mu.Lock()
	e.calls = 0
	e.mu.Unlock()
}

// Ensure Emitter implements reminder.Emitter at compile time.
var _ reminder.Emitter = (*Emitter)(nil)
