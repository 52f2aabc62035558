// Package stt defines the Provider interface for streaming speech recognisers.
//
// A recogniser is the Speech Source of a chanting session: once a stream is
// opened it emits two kinds of Transcript values, low-latency partials
// (interim guesses that may still change) and finals (the recogniser's
// committed result for an utterance). A stream may end on its own, for
// example when a hosted service closes an idle connection; callers that need
// continuous listening reopen it.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by StartStream when the recogniser cannot be
// used in this environment at all, e.g. a missing native library or audio
// device. Callers should report it rather than retry.
var ErrUnavailable = errors.New("stt: speech recognition unavailable")

// StreamConfig describes the audio format and recognition hints for a new
// stream.
type StreamConfig struct {
	// SampleRate is the PCM sample rate in Hz. Zero selects the provider
	// default (usually 16000).
	SampleRate int

	// Channels is the number of interleaved audio channels. Zero means mono.
	Channels int

	// Language is the BCP-47 recognition locale (e.g. "en-IN", "hi-IN").
	// Empty selects the provider default.
	Language string

	// Keywords are vocabulary hints. The session controller passes the
	// mantra's words so uncommon Sanskrit terms are recognised more often.
	Keywords []KeywordBoost
}

// SessionHandle is an open recognition stream.
//
// Callers must call Close when the stream is no longer needed. After the
// stream ends (Close, remote hang-up or error) both transcript channels are
// closed and Err reports why.
type SessionHandle interface {
	// SendAudio delivers a chunk of little-endian 16-bit PCM audio.
	// Providers that capture audio themselves ignore it and return nil.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Closed when the stream ends.
	Partials() <-chan Transcript

	// Finals emits committed transcripts. Closed when the stream ends.
	Finals() <-chan Transcript

	// Err returns the error that ended the stream, or nil while the stream
	// is running and after a clean end.
	Err() error

	// Close terminates the stream and releases its resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider opens recognition streams.
type Provider interface {
	// StartStream opens a new stream. The caller owns the returned handle.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
