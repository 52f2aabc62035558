//go:build !portaudio
// +build !portaudio

package tone

import "fmt"

// New reports that tone playback is not compiled in.
func New(_ ...Option) (*Emitter, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags portaudio", ErrUnavailable)
}
