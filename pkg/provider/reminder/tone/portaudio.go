//go:build portaudio
// +build portaudio

package tone

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const framesPerBuffer = 512

// New opens the default output device and returns an Emitter for it.
func New(opts ...Option) (*Emitter, error) {
	o := resolve(opts)
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initializing portaudio: %w", ErrUnavailable, err)
	}

	buf := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(o.sampleRate), framesPerBuffer, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: opening output stream: %w", ErrUnavailable, err)
	}

	slog.Info("tone output opened", "sample_rate", o.sampleRate, "frequency", o.frequency)
	p := &paPlayer{stream: stream, buf: buf}
	return newEmitter(p, Synthesize(opts...)), nil
}

type paPlayer struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []float32
}

func (p *paPlayer) play(samples []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.stream.Start(); err != nil {
		return fmt.Errorf("tone: starting stream: %w", err)
	}
	defer p.stream.Stop()

	for off := 0; off < len(samples); off += len(p.buf) {
		n := copy(p.buf, samples[off:])
		clear(p.buf[n:])
		if err := p.stream.Write(); err != nil {
			slog.Warn("tone write failed", "err", err)
			return fmt.Errorf("tone: writing stream: %w", err)
		}
	}
	return nil
}

func (p *paPlayer) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.stream.Close()
	portaudio.Terminate()
	return err
}
