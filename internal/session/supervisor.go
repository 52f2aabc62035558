package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/japamala/internal/observe"
	"github.com/MrWong99/japamala/pkg/provider/stt"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 8
	defaultBackoff    = 250 * time.Millisecond
	defaultMaxBackoff = 8 * time.Second
)

// ReconnectPolicy bounds how the [Supervisor] reopens a recogniser stream
// that ended while the session is still listening.
type ReconnectPolicy struct {
	// MaxRetries is the number of consecutive failures after which the
	// supervisor gives up. A failure is a failed open or a stream that ended
	// without delivering a single result. Defaults to 8 if zero.
	MaxRetries int

	// Backoff is the wait after the first failure. Doubles with each further
	// consecutive failure up to MaxBackoff. Defaults to 250ms if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on the wait. Defaults to 8s if zero.
	MaxBackoff time.Duration
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = defaultMaxRetries
	}
	if p.Backoff <= 0 {
		p.Backoff = defaultBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	if p.MaxBackoff < p.Backoff {
		p.MaxBackoff = p.Backoff
	}
	return p
}

// delay returns the wait before the next open after failures consecutive
// failures. No wait is needed after a healthy stream ended.
func (p ReconnectPolicy) delay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := p.Backoff
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// Supervisor keeps a recogniser stream open for as long as a listening
// session runs. Recognisers end streams on their own (idle timeouts, network
// hiccups); the supervisor reopens them under a [ReconnectPolicy] and hands
// every transcript to a delivery function.
//
// Open and Run are meant to be called from one goroutine; Connected is safe
// for concurrent use.
type Supervisor struct {
	provider stt.Provider
	cfg      stt.StreamConfig
	policy   ReconnectPolicy
	metrics  *observe.Metrics
	deliver  func(stt.Transcript)

	mu     sync.Mutex
	handle stt.SessionHandle
}

// NewSupervisor returns a Supervisor that opens streams on provider with cfg
// and passes each transcript to deliver. deliver is called from the
// goroutine running [Supervisor.Run].
func NewSupervisor(provider stt.Provider, cfg stt.StreamConfig, policy ReconnectPolicy, metrics *observe.Metrics, deliver func(stt.Transcript)) *Supervisor {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Supervisor{
		provider: provider,
		cfg:      cfg,
		policy:   policy.withDefaults(),
		metrics:  metrics,
		deliver:  deliver,
	}
}

// Open performs the initial stream open. A failure here is reported to the
// caller rather than retried: the recogniser is considered unavailable.
func (s *Supervisor) Open(ctx context.Context) error {
	h, err := s.open(ctx, 0)
	if err != nil {
		return err
	}
	s.setHandle(h)
	return nil
}

// Close closes the open stream, if any. It is only needed when Run will
// not be called after a successful Open.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Close()
}

// Connected reports whether a stream is currently open.
func (s *Supervisor) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

// Run pumps the stream opened by [Supervisor.Open] and reopens it whenever
// it ends. It returns nil when ctx is cancelled and an error wrapping
// [ErrRecognitionFailed] once the reconnect policy is exhausted. The open
// stream is always closed before Run returns.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.setHandle(nil)

	failures := 0
	for {
		h := s.current()
		if h == nil {
			return fmt.Errorf("%w: stream not open", ErrRecognitionFailed)
		}

		delivered := s.pump(ctx, h)
		streamErr := h.Err()
		_ = h.Close()
		s.setHandle(nil)

		if ctx.Err() != nil {
			return nil
		}

		if delivered {
			failures = 0
		} else {
			failures++
		}
		slog.Debug("recogniser stream ended",
			"delivered", delivered,
			"consecutive_failures", failures,
			"err", streamErr,
		)

		lastErr := streamErr
		for {
			if failures >= s.policy.MaxRetries {
				s.metrics.RecordRestart(ctx, "gave_up")
				slog.Error("recogniser reconnect failed after max retries",
					"max_retries", s.policy.MaxRetries,
					"err", lastErr,
				)
				if lastErr == nil {
					return ErrRecognitionFailed
				}
				return fmt.Errorf("%w: %w", ErrRecognitionFailed, lastErr)
			}

			wait := s.policy.delay(failures)
			if wait > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(wait):
				}
			}

			next, err := s.open(ctx, failures+1)
			if err == nil {
				s.metrics.RecordRestart(ctx, "ok")
				s.setHandle(next)
				break
			}
			if ctx.Err() != nil {
				return nil
			}
			s.metrics.RecordRestart(ctx, "error")
			slog.Warn("recogniser reconnect attempt failed",
				"attempt", failures+1,
				"max_retries", s.policy.MaxRetries,
				"backoff", wait,
				"err", err,
			)
			lastErr = err
			if errors.Is(err, stt.ErrUnavailable) {
				failures = s.policy.MaxRetries
				continue
			}
			failures++
		}
	}
}

// open starts one stream inside a span. attempt is 0 for the initial open.
func (s *Supervisor) open(ctx context.Context, attempt int) (stt.SessionHandle, error) {
	ctx, span := observe.StartSpan(ctx, "recogniser.open",
		trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("language", s.cfg.Language),
		),
	)
	defer span.End()

	h, err := s.provider.StartStream(ctx, s.cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return h, nil
}

// pump forwards transcripts from h until both channels close or ctx is
// done. It reports whether at least one transcript was delivered.
func (s *Supervisor) pump(ctx context.Context, h stt.SessionHandle) bool {
	partials, finals := h.Partials(), h.Finals()
	delivered := false
	for partials != nil || finals != nil {
		select {
		case <-ctx.Done():
			return delivered
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			delivered = true
			s.deliver(t)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			t.IsFinal = true
			delivered = true
			s.deliver(t)
		}
	}
	return delivered
}

func (s *Supervisor) current() stt.SessionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

func (s *Supervisor) setHandle(h stt.SessionHandle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}
