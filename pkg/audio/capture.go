// Package audio captures microphone audio and feeds it to recognisers that
// need raw PCM, such as the Deepgram streaming provider.
//
// A [Capture] produces [Frame] values; [CapturedProvider] pairs a capture with
// an stt.Provider so that opening a recognition stream also starts the
// microphone, converts its frames to the recogniser's format and forwards
// them with SendAudio.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/japamala/pkg/provider/stt"
)

// ErrDeviceUnavailable is returned when no audio input can be opened.
var ErrDeviceUnavailable = errors.New("audio: input device unavailable")

// Capture is an audio input.
type Capture interface {
	// Start begins capturing. The returned channel is closed when capture
	// ends, either because ctx is done, Close was called or the source ran
	// out.
	Start(ctx context.Context) (<-chan Frame, error)

	// Close stops capturing and releases the device.
	Close() error
}

// CapturedProvider is an stt.Provider that streams a freshly opened
// [Capture] into every recognition stream of the wrapped provider.
type CapturedProvider struct {
	// Provider is the recogniser that receives the audio.
	Provider stt.Provider

	// NewCapture opens the input for one stream.
	NewCapture func() (Capture, error)

	// Tap, if non-nil, receives every converted frame before it is sent.
	// It is called from the pump goroutine and must not block.
	Tap func(Frame)
}

// StartStream opens the recogniser stream and then the capture. A capture
// that cannot be opened is reported as stt.ErrUnavailable.
func (p *CapturedProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	cfg.Channels = 1

	capture, err := p.NewCapture()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", stt.ErrUnavailable, err)
	}

	h, err := p.Provider.StartStream(ctx, cfg)
	if err != nil {
		_ = capture.Close()
		return nil, err
	}

	capCtx, cancel := context.WithCancel(ctx)
	frames, err := capture.Start(capCtx)
	if err != nil {
		cancel()
		_ = h.Close()
		_ = capture.Close()
		return nil, fmt.Errorf("%w: %w", stt.ErrUnavailable, err)
	}

	s := &capturedSession{
		SessionHandle: h,
		capture:       capture,
		cancel:        cancel,
		pumped:        make(chan struct{}),
	}
	go s.pump(frames, &Downmixer{SampleRate: cfg.SampleRate}, p.Tap)
	return s, nil
}

var _ stt.Provider = (*CapturedProvider)(nil)

// capturedSession is a recogniser stream that owns its capture.
type capturedSession struct {
	stt.SessionHandle
	capture Capture
	cancel  context.CancelFunc
	pumped  chan struct{}
	once    sync.Once
	err     error
}

func (s *capturedSession) pump(frames <-chan Frame, conv *Downmixer, tap func(Frame)) {
	defer close(s.pumped)
	for f := range frames {
		out, err := conv.Convert(f)
		if err != nil {
			slog.Warn("audio: dropping frame", "err", err)
			continue
		}
		if len(out.Data) == 0 {
			continue
		}
		if tap != nil {
			tap(out)
		}
		if err := s.SessionHandle.SendAudio(out.Data); err != nil {
			slog.Debug("audio: recogniser stopped accepting audio", "err", err)
			s.cancel()
			for range frames {
			}
			return
		}
	}
}

// Close stops the capture, waits for the pump and closes the recogniser
// stream.
func (s *capturedSession) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.pumped
		s.err = errors.Join(s.capture.Close(), s.SessionHandle.Close())
	})
	return s.err
}
