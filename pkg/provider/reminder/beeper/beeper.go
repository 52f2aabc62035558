// Package beeper provides a reminder.Emitter backed by the operating system
// beep and, optionally, a desktop notification, using
// github.com/gen2brain/beeep.
package beeper

import (
	"log/slog"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/MrWong99/japamala/pkg/provider/reminder"
)

// Option is a functional option for configuring the beeper Emitter.
type Option func(*Emitter)

// WithNotification also shows a desktop notification with the given title
// on every cue.
func WithNotification(title string) Option {
	return func(e *Emitter) { e.notifyTitle = title }
}

// WithFrequency sets the beep pitch in Hz.
func WithFrequency(hz float64) Option {
	return func(e *Emitter) { e.frequency = hz }
}

// WithDuration sets the beep length.
func WithDuration(d time.Duration) Option {
	return func(e *Emitter) { e.duration = d }
}

// Emitter beeps through the system speaker.
type Emitter struct {
	frequency   float64
	duration    time.Duration
	notifyTitle string

	gate   *reminder.Gate
	beep   func(freq float64, durationMs int) error
	notify func(title, message, icon string) error
}

// New returns a beeper Emitter.
func New(opts ...Option) *Emitter {
	e := &Emitter{
		frequency: reminder.CueFrequency,
		duration:  reminder.CueDuration,
		beep:      beeep.Beep,
		notify:    beeep.Notify,
	}
	for _, o := range opts {
		o(e)
	}
	e.gate = reminder.NewGate(e.play)
	return e
}

// Emit beeps unless the previous beep is still sounding.
func (e *Emitter) Emit() { e.gate.Emit() }

func (e *Emitter) play() {
	if e.notifyTitle != "" {
		if err := e.notify(e.notifyTitle, "Return to your mantra", ""); err != nil {
			slog.Debug("beeper notification failed", "err", err)
		}
	}
	if err := e.beep(e.frequency, int(e.duration.Milliseconds())); err != nil {
		slog.Warn("beep failed", "err", err)
	}
}

var _ reminder.Emitter = (*Emitter)(nil)
