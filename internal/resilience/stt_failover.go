package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/japamala/pkg/provider/stt"
)

// ErrAllFailed is returned when no recogniser could open a stream.
var ErrAllFailed = errors.New("resilience: all recognisers failed")

type backend struct {
	name     string
	provider stt.Provider
	breaker  *Breaker
}

// STTFailover implements [stt.Provider] over an ordered list of recognisers.
// Each StartStream tries them in order, skipping those whose breaker is
// open.
type STTFailover struct {
	cfg BreakerConfig

	mu       sync.RWMutex
	backends []backend
	active   string
}

var _ stt.Provider = (*STTFailover)(nil)

// NewSTTFailover returns a failover with primary as the preferred
// recogniser. cfg.Name is replaced with each backend's name.
func NewSTTFailover(primaryName string, primary stt.Provider, cfg BreakerConfig) *STTFailover {
	f := &STTFailover{cfg: cfg}
	f.Add(primaryName, primary)
	return f
}

// Add appends a fallback recogniser.
func (f *STTFailover) Add(name string, p stt.Provider) {
	cfg := f.cfg
	cfg.Name = name
	f.mu.Lock()
	f.backends = append(f.backends, backend{name: name, provider: p, breaker: NewBreaker(cfg)})
	f.mu.Unlock()
}

// Active returns the name of the recogniser that opened the last stream.
func (f *STTFailover) Active() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.active
}

// StartStream opens a stream on the first healthy recogniser.
//
// The returned error wraps [stt.ErrUnavailable] only when every backend
// reported it, so a supervisor gives up only if no backend can ever serve.
func (f *STTFailover) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	f.mu.RLock()
	backends := f.backends
	f.mu.RUnlock()

	var errs []error
	allUnavailable := true
	for _, b := range backends {
		if err := b.breaker.Allow(); err != nil {
			slog.Debug("skipping recogniser", "provider", b.name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
			allUnavailable = false
			continue
		}
		h, err := b.provider.StartStream(ctx, cfg)
		if err == nil {
			b.breaker.Success()
			f.mu.Lock()
			prev := f.active
			f.active = b.name
			f.mu.Unlock()
			if prev != "" && prev != b.name {
				slog.Info("recogniser switched", "from", prev, "to", b.name)
			}
			return h, nil
		}
		b.breaker.Failure()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("recogniser failed to open stream, trying next", "provider", b.name, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
		if !errors.Is(err, stt.ErrUnavailable) {
			allUnavailable = false
		}
	}

	joined := errors.Join(errs...)
	if allUnavailable && joined != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllFailed, joined)
	}
	return nil, fmt.Errorf("%w: %v", ErrAllFailed, joined)
}
