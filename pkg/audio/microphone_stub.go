//go:build !portaudio
// +build !portaudio

package audio

import (
	"context"
	"fmt"
)

// Microphone is unavailable without the portaudio build tag.
type Microphone struct{}

// NewMicrophone returns a stub microphone.
func NewMicrophone(_ int) *Microphone {
	return &Microphone{}
}

// Start reports that capture is not compiled in.
func (m *Microphone) Start(_ context.Context) (<-chan Frame, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags portaudio", ErrDeviceUnavailable)
}

// Close does nothing.
func (m *Microphone) Close() error {
	return nil
}

var _ Capture = (*Microphone)(nil)
