package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/japamala/internal/config"
	"github.com/MrWong99/japamala/internal/health"
	"github.com/MrWong99/japamala/internal/mantra"
	"github.com/MrWong99/japamala/internal/observe"
)

// Status is the JSON document served at /status.
type Status struct {
	Mantra               string    `json:"mantra"`
	Listening            bool      `json:"listening"`
	Connected            bool      `json:"connected"`
	Recording            bool      `json:"recording"`
	Recogniser           string    `json:"recogniser,omitempty"`
	ChantSeconds         int       `json:"chant_seconds"`
	SilenceThresholdSecs int       `json:"silence_threshold_seconds"`
	LastValidUtteranceAt time.Time `json:"last_valid_utterance_at,omitzero"`
	Transcript           string    `json:"transcript,omitempty"`
	Interim              string    `json:"interim,omitempty"`
	RecordingPreview     string    `json:"recording_preview,omitempty"`
	LastError            string    `json:"last_error,omitempty"`
}

// Status returns a snapshot of the listening and recording state.
func (a *App) Status() Status {
	st := a.listener.Snapshot()
	s := Status{
		Mantra:               a.Phrase(),
		Listening:            a.listener.Active(),
		Connected:            a.listener.Connected(),
		Recording:            a.recorder.Recording(),
		ChantSeconds:         st.ChantElapsed,
		SilenceThresholdSecs: int(a.listener.Config().SilenceThreshold / time.Second),
		LastValidUtteranceAt: st.LastValidUtteranceAt,
		Transcript:           st.LiveFinalText,
		Interim:              st.LiveInterimText,
		RecordingPreview:     a.recorder.Preview(),
	}
	if a.failover != nil {
		s.Recogniser = a.failover.Active()
	}
	if err := a.listener.Err(); err != nil {
		s.LastError = err.Error()
	}
	return s
}

// Handler returns the status endpoint mux: /healthz, /readyz, /status and,
// when metrics is non-nil, /metrics.
func (a *App) Handler(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	health.New(health.Recogniser(a.listener.Active, a.listener.Connected)).
		WithStatus(func() any { return a.Status() }).
		Register(mux)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return observe.Middleware(a.metrics)(mux)
}

// Run serves the status endpoint on server.listen_addr, if set, while task
// runs. It returns when task returns or the server fails; the server is shut
// down either way.
func (a *App) Run(ctx context.Context, metrics http.Handler, task func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	taskDone := make(chan struct{})

	a.mu.Lock()
	addr := a.cfg.Server.ListenAddr
	a.mu.Unlock()

	if addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("app: listen on %s: %w", addr, err)
		}
		srv := &http.Server{
			Handler:           a.Handler(metrics),
			ReadHeaderTimeout: 5 * time.Second,
		}
		slog.Info("status endpoint listening", "addr", ln.Addr().String())

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-taskDone:
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer close(taskDone)
		return task(gctx)
	})
	return g.Wait()
}

// ApplyConfig applies the hot-reloadable parts of a changed config file.
// It is meant as the callback of a config.Watcher.
func (a *App) ApplyConfig(prev, next *config.Config) {
	d := config.Diff(prev, next)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	a.mu.Lock()
	a.configured = next
	a.cfg = next
	savedMantra := a.saved.Mantra
	savedThreshold := a.saved.SilenceThresholdSeconds
	a.mu.Unlock()

	if d.MantraChanged {
		if savedMantra != "" {
			slog.Info("configured mantra changed but a recorded mantra takes precedence", "configured", d.NewPhrase)
		} else {
			a.mu.Lock()
			a.phrase = d.NewPhrase
			a.mu.Unlock()
			a.listener.SetIndex(mantra.Build(d.NewPhrase))
			slog.Info("mantra changed; applies to the next session", "mantra", d.NewPhrase)
		}
	}
	if d.SilenceThresholdChanged && savedThreshold == 0 {
		a.listener.SetSilenceThreshold(next.Session.SilenceThreshold())
		slog.Info("silence threshold changed; applies to the next session",
			"threshold", a.listener.Config().SilenceThreshold)
	}
	for _, section := range d.RestartRequired {
		slog.Warn("config change requires restart", "section", section)
	}
}

// SlogLevel maps a config log level to its slog counterpart.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

