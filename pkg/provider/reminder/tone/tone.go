// Package tone provides a reminder.Emitter that plays a decaying sine cue on
// the default audio output device.
//
// Playback uses PortAudio and is only compiled with the "portaudio" build
// tag. Without it, [New] returns an error wrapping [ErrUnavailable] and the
// caller is expected to fall back to another emitter.
package tone

import (
	"errors"
	"math"
	"time"

	"github.com/MrWong99/japamala/pkg/provider/reminder"
)

const defaultSampleRate = 44100

// ErrUnavailable is returned by New when no audio output can be opened.
var ErrUnavailable = errors.New("tone: audio output unavailable")

// Option is a functional option for configuring the tone Emitter.
type Option func(*options)

type options struct {
	frequency  float64
	duration   time.Duration
	sampleRate int
	volume     float64
}

// WithFrequency sets the cue pitch in Hz.
func WithFrequency(hz float64) Option {
	return func(o *options) { o.frequency = hz }
}

// WithDuration sets the cue length.
func WithDuration(d time.Duration) Option {
	return func(o *options) { o.duration = d }
}

// WithSampleRate sets the output sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(o *options) { o.sampleRate = rate }
}

// WithVolume sets the peak amplitude in [0, 1].
func WithVolume(v float64) Option {
	return func(o *options) { o.volume = min(max(v, 0), 1) }
}

func resolve(opts []Option) options {
	o := options{
		frequency:  reminder.CueFrequency,
		duration:   reminder.CueDuration,
		sampleRate: defaultSampleRate,
		volume:     0.4,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Synthesize renders one cue as mono float32 samples: a sine at the
// configured frequency whose amplitude falls linearly to zero over the cue.
func Synthesize(opts ...Option) []float32 {
	o := resolve(opts)
	n := int(o.duration.Seconds() * float64(o.sampleRate))
	if n <= 0 {
		return nil
	}
	out := make([]float32, n)
	step := 2 * math.Pi * o.frequency / float64(o.sampleRate)
	for i := range out {
		envelope := 1 - float64(i)/float64(n)
		out[i] = float32(o.volume * envelope * math.Sin(step*float64(i)))
	}
	return out
}

// Emitter plays the cue through a [player]. Calls that arrive while a cue
// is still sounding are dropped.
type Emitter struct {
	gate   *reminder.Gate
	player player
}

// player writes a rendered cue to an output device and blocks until done.
type player interface {
	play(samples []float32) error
	close() error
}

func newEmitter(p player, samples []float32) *Emitter {
	e := &Emitter{player: p}
	e.gate = reminder.NewGate(func() {
		_ = p.play(samples)
	})
	return e
}

// Emit starts the cue unless one is already playing.
func (e *Emitter) Emit() { e.gate.Emit() }

// Close releases the audio device.
func (e *Emitter) Close() error { return e.player.close() }

var _ reminder.Emitter = (*Emitter)(nil)
