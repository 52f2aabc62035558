//go:build portaudio
// +build portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// Microphone captures the default input device through PortAudio.
type Microphone struct {
	sampleRate      int
	framesPerBuffer int

	mu     sync.Mutex
	stream *portaudio.Stream
	closed bool
}

// NewMicrophone returns a mono capture at sampleRate.
func NewMicrophone(sampleRate int) *Microphone {
	return &Microphone{sampleRate: sampleRate, framesPerBuffer: sampleRate / 50}
}

// Start opens the device and reads it on a goroutine.
func (m *Microphone) Start(ctx context.Context) (<-chan Frame, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initializing portaudio: %w", ErrDeviceUnavailable, err)
	}

	in := make([]int16, m.framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), len(in), in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: opening stream: %w", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: starting stream: %w", ErrDeviceUnavailable, err)
	}

	m.mu.Lock()
	m.stream = stream
	m.mu.Unlock()
	slog.Info("microphone started", "sample_rate", m.sampleRate)

	out := make(chan Frame, 32)
	go func() {
		defer close(out)
		var offset time.Duration
		for ctx.Err() == nil {
			if err := stream.Read(); err != nil {
				if ctx.Err() == nil {
					slog.Warn("microphone read failed", "err", err)
				}
				return
			}
			f := Frame{
				Data:       Int16ToBytes(in),
				SampleRate: m.sampleRate,
				Channels:   1,
				Timestamp:  offset,
			}
			offset += f.Duration()
			select {
			case out <- f:
			case <-ctx.Done():
				return
			default:
				slog.Debug("microphone frame dropped, consumer too slow")
			}
		}
	}()
	return out, nil
}

// Close stops the device. Safe to call more than once.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.stream == nil {
		m.closed = true
		return nil
	}
	m.closed = true
	_ = m.stream.Stop()
	err := m.stream.Close()
	portaudio.Terminate()
	return err
}

var _ Capture = (*Microphone)(nil)
