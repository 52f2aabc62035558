// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that callers open streams with the expected
// StreamConfig, and to script reconnects by queueing several Sessions. Use
// Session to feed controlled Transcript values.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Sessions: []stt.SessionHandle{sess}}
//	sess.FinalsCh <- stt.Transcript{Text: "om", IsFinal: true}
//	sess.End(nil) // simulate the recogniser hanging up
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/japamala/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Sessions are returned by successive StartStream calls. When exhausted,
	// StartStream returns a fresh Session from NewSession.
	Sessions []stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamErrs, if non-empty, supplies per-call errors in order
	// (nil entries succeed). It takes precedence over StartStreamErr until
	// exhausted.
	StartStreamErrs []error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	// Opened records every session handed out.
	Opened []stt.SessionHandle
}

// StartStream records the call and returns the next queued Session or error.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})

	if len(p.StartStreamErrs) > 0 {
		err := p.StartStreamErrs[0]
		p.StartStreamErrs = p.StartStreamErrs[1:]
		if err != nil {
			return nil, err
		}
	} else if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}

	var sess stt.SessionHandle
	if len(p.Sessions) > 0 {
		sess = p.Sessions[0]
		p.Sessions = p.Sessions[1:]
	} else {
		sess = NewSession()
	}
	p.Opened = append(p.Opened, sess)
	return sess, nil
}

// CallCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// LastSession returns the most recently opened session, or nil.
func (p *Provider) LastSession() stt.SessionHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Opened) == 0 {
		return nil
	}
	return p.Opened[len(p.Opened)-1]
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle. Tests send on
// PartialsCh and FinalsCh and call End to simulate the stream ending.
type Session struct {
	mu sync.Mutex

	// PartialsCh is the channel returned by Partials().
	PartialsCh chan stt.Transcript

	// FinalsCh is the channel returned by Finals().
	FinalsCh chan stt.Transcript

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// SendAudioCalls counts SendAudio invocations.
	SendAudioCalls int

	// Audio holds a copy of every chunk passed to SendAudio.
	Audio [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	err     error
	endOnce sync.Once
}

// NewSession returns a Session with buffered transcript channels.
func NewSession() *Session {
	return &Session{
		PartialsCh: make(chan stt.Transcript, 16),
		FinalsCh:   make(chan stt.Transcript, 16),
	}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls++
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.Audio = append(s.Audio, append([]byte(nil), chunk...))
	return nil
}

// AudioBytes returns the total number of bytes accepted by SendAudio.
// Thread-safe.
func (s *Session) AudioBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.Audio {
		n += len(c)
	}
	return n
}

// Partials returns PartialsCh.
func (s *Session) Partials() <-chan stt.Transcript { return s.PartialsCh }

// Finals returns FinalsCh.
func (s *Session) Finals() <-chan stt.Transcript { return s.FinalsCh }

// Err returns the error passed to End.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// End simulates the recogniser ending the stream with err (nil for a clean
// hang-up) by closing both transcript channels. Safe to call more than once.
func (s *Session) End(err error) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.PartialsCh)
		close(s.FinalsCh)
	})
}

// Close records the call and returns CloseErr. It does not close the
// transcript channels; use End for that.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Closes returns the number of Close calls. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)
