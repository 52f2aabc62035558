// Package reminder defines the Emitter interface for audible reminder cues.
//
// An Emitter is the audio output of a chanting session. The session
// controller calls Emit whenever the user falls silent for too long or says
// something unrelated to the mantra. Emit is fire-and-forget: it must return
// promptly and must not queue overlapping cues. An implementation that is
// still playing a cue may drop the new call.
//
// Implementations must be safe for concurrent use.
package reminder

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Standard cue shape shared by the built-in emitters.
const (
	// CueFrequency is the pitch of the cue in Hz.
	CueFrequency = 528.0

	// CueDuration is how long one cue sounds, including its decay.
	CueDuration = 1500 * time.Millisecond
)

// Emitter produces one audible cue per call.
type Emitter interface {
	Emit()
}

// Func adapts an ordinary function to the Emitter interface.
type Func func()

// Emit calls f.
func (f Func) Emit() { f() }

// Log is an Emitter that writes the terminal bell to its writer function
// and logs the cue. It is the fallback when no audio device is available.
type Log struct {
	// Bell, if non-nil, is called with the BEL control character.
	Bell func(p []byte) (int, error)

	count atomic.Int64
}

// Emit logs the cue and rings the bell.
func (l *Log) Emit() {
	n := l.count.Add(1)
	slog.Info("reminder", "count", n)
	if l.Bell != nil {
		_, _ = l.Bell([]byte{'\a'})
	}
}

// Count returns the number of cues emitted so far.
func (l *Log) Count() int64 { return l.count.Load() }

// Gate drops calls that arrive while a previous cue is still sounding. It
// wraps a play function that blocks for the length of one cue and runs it on
// its own goroutine, so Emit never blocks.
type Gate struct {
	play    func()
	playing atomic.Bool
}

// NewGate returns a Gate around play.
func NewGate(play func()) *Gate {
	return &Gate{play: play}
}

// Emit starts play unless a cue is already sounding.
func (g *Gate) Emit() {
	if !g.playing.CompareAndSwap(false, true) {
		slog.Debug("reminder dropped, cue still playing")
		return
	}
	go func() {
		defer g.playing.Store(false)
		g.play()
	}()
}

// Playing reports whether a cue is sounding.
func (g *Gate) Playing() bool { return g.playing.Load() }

var (
	_ Emitter = Func(nil)
	_ Emitter = (*Log)(nil)
	_ Emitter = (*Gate)(nil)
)
