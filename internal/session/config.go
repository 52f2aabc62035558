package session

import (
	"errors"
	"time"
)

// Timing defaults for a listening session.
const (
	DefaultSilenceThreshold = 3 * time.Second
	MinSilenceThreshold     = 1 * time.Second
	MaxSilenceThreshold     = 10 * time.Second

	DefaultMismatchCooldown = 1500 * time.Millisecond
	DefaultTickInterval     = 1 * time.Second
	DefaultPollInterval     = 250 * time.Millisecond

	// DefaultTranscriptLimit bounds LiveFinalText, in characters.
	DefaultTranscriptLimit = 2000

	// DefaultInterimMinConfidence is the score below which interim
	// fragments are discarded.
	DefaultInterimMinConfidence = 0.1
)

var (
	// ErrNoMantraRecorded is returned by Start when no mantra is saved.
	ErrNoMantraRecorded = errors.New("session: no mantra recorded")

	// ErrRecognitionUnavailable is returned by Start when no recogniser is
	// configured or the first stream cannot be opened.
	ErrRecognitionUnavailable = errors.New("session: speech recognition unavailable")

	// ErrRecognitionFailed ends a running session after the recogniser
	// could not be reopened within the reconnect policy.
	ErrRecognitionFailed = errors.New("session: speech recognition failed")
)

// Config holds the tuning of a listening session. Zero fields take the
// package defaults in [Config.withDefaults].
type Config struct {
	// SilenceThreshold is how long the user may stay silent before a
	// reminder fires. Clamped to [MinSilenceThreshold, MaxSilenceThreshold].
	SilenceThreshold time.Duration

	// MismatchCooldown is the minimum spacing between mismatch reminders.
	MismatchCooldown time.Duration

	// TickInterval drives the chant-elapsed counter.
	TickInterval time.Duration

	// PollInterval drives the silence check.
	PollInterval time.Duration

	// TranscriptLimit bounds LiveFinalText in characters.
	TranscriptLimit int

	// InterimMinConfidence discards less certain interim fragments.
	InterimMinConfidence float64

	// Language is the recognition locale passed to the recogniser.
	Language string

	// Reconnect is the recogniser restart policy.
	Reconnect ReconnectPolicy
}

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	c.SilenceThreshold = ClampSilenceThreshold(c.SilenceThreshold)
	if c.MismatchCooldown <= 0 {
		c.MismatchCooldown = DefaultMismatchCooldown
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.TranscriptLimit <= 0 {
		c.TranscriptLimit = DefaultTranscriptLimit
	}
	if c.InterimMinConfidence <= 0 {
		c.InterimMinConfidence = DefaultInterimMinConfidence
	}
	c.Reconnect = c.Reconnect.withDefaults()
	return c
}

// ClampSilenceThreshold limits d to [MinSilenceThreshold, MaxSilenceThreshold].
func ClampSilenceThreshold(d time.Duration) time.Duration {
	return min(max(d, MinSilenceThreshold), MaxSilenceThreshold)
}
