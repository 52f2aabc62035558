package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/japamala/pkg/audio"
	"github.com/MrWong99/japamala/pkg/provider/reminder"
	"github.com/MrWong99/japamala/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	stt      map[string]func(ProviderEntry) (stt.Provider, error)
	reminder map[string]func(ProviderEntry) (reminder.Emitter, error)
	audio    map[string]func(ProviderEntry) (audio.Capture, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:      make(map[string]func(ProviderEntry) (stt.Provider, error)),
		reminder: make(map[string]func(ProviderEntry) (reminder.Emitter, error)),
		audio:    make(map[string]func(ProviderEntry) (audio.Capture, error)),
	}
}

// RegisterSTT registers a recogniser factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterReminder registers a reminder emitter factory under name.
func (r *Registry) RegisterReminder(name string, factory func(ProviderEntry) (reminder.Emitter, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reminder[name] = factory
}

// RegisterAudio registers an audio capture factory under name. The factory
// is called once per recogniser stream.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (audio.Capture, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateSTT instantiates a recogniser using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateReminder instantiates a reminder emitter using the factory registered
// under entry.Name.
func (r *Registry) CreateReminder(entry ProviderEntry) (reminder.Emitter, error) {
	r.mu.RLock()
	factory, ok := r.reminder[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: reminder/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAudio instantiates an audio capture using the factory registered
// under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Capture, error) {
	r.mu.RLock()
	factory, ok := r.audio[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
