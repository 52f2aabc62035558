// Package app wires the japamala subsystems into a running application.
//
// The App owns the full lifecycle: New loads the saved preferences, builds
// the mantra index and creates the listening and recording controllers,
// Run serves the status endpoint next to a foreground task, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithPrefsStore,
// WithFs, WithMetrics). Providers always come from the caller.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/MrWong99/japamala/internal/config"
	"github.com/MrWong99/japamala/internal/mantra"
	"github.com/MrWong99/japamala/internal/observe"
	"github.com/MrWong99/japamala/internal/prefs"
	"github.com/MrWong99/japamala/internal/recording"
	"github.com/MrWong99/japamala/internal/resilience"
	"github.com/MrWong99/japamala/internal/session"
	"github.com/MrWong99/japamala/pkg/audio"
	"github.com/MrWong99/japamala/pkg/provider/reminder"
	"github.com/MrWong99/japamala/pkg/provider/stt"
)

// Recogniser is one configured speech recogniser.
type Recogniser struct {
	// Name is the registry name, e.g. "deepgram".
	Name string

	// Provider opens recognition streams.
	Provider stt.Provider

	// NeedsAudio is set for recognisers that consume PCM from the audio
	// capture. Recognisers that produce transcripts on their own, such as a
	// replayed script, leave it unset.
	NeedsAudio bool
}

// Providers holds the collaborators built by main.go via the config registry.
type Providers struct {
	// Recognisers lists the primary recogniser first, then the fallbacks.
	Recognisers []Recogniser

	// Reminder plays the cue. Nil logs reminders instead.
	Reminder reminder.Emitter

	// Capture opens a fresh audio capture for each recogniser stream.
	// Required when any recogniser has NeedsAudio set.
	Capture func() (audio.Capture, error)
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	fs        afero.Fs
	prefs     *prefs.Store
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar
	sessOpts  []session.Option

	failover *resilience.STTFailover
	listener *session.Controller
	recorder *recording.Controller
	tap      *wavTap

	mu         sync.Mutex
	saved      prefs.Prefs
	configured *config.Config
	phrase     string
	audioPath  string

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithPrefsStore injects the preferences store instead of opening the one
// at config.Mantra.PrefsPath.
func WithPrefsStore(s *prefs.Store) Option {
	return func(a *App) { a.prefs = s }
}

// WithFs sets the file system used for preferences and recorded audio.
// Defaults to the OS file system.
func WithFs(fsys afero.Fs) Option {
	return func(a *App) { a.fs = fsys }
}

// WithMetrics sets the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads change the verbosity of the handler
// built around lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithSessionOptions passes extra options to the listening controller, for
// example session.WithObserver for a live display.
func WithSessionOptions(opts ...session.Option) Option {
	return func(a *App) { a.sessOpts = append(a.sessOpts, opts...) }
}

// New wires an App. It reads the saved preferences synchronously; a saved
// mantra takes precedence over config.Mantra.Phrase and a saved silence
// threshold over the configured one.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:        cfg,
		providers:  providers,
		configured: cfg,
	}
	for _, o := range opts {
		o(a)
	}
	if a.fs == nil {
		a.fs = afero.NewOsFs()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.prefs == nil {
		path := cfg.Mantra.PrefsPath
		if path == "" {
			path = prefs.DefaultPath()
		}
		a.prefs = prefs.NewStore(a.fs, path)
	}

	// ── 1. Preferences ───────────────────────────────────────────────────
	saved, err := a.prefs.Load()
	if err != nil {
		return nil, fmt.Errorf("app: load preferences: %w", err)
	}
	a.saved = saved

	// ── 2. Recognisers ───────────────────────────────────────────────────
	listenSTT, err := a.buildRecogniser(nil)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.tap = &wavTap{}
	recordSTT, err := a.buildRecogniser(a.tap.write)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 3. Listening session ─────────────────────────────────────────────
	scfg := cfg.SessionConfig()
	if saved.SilenceThresholdSeconds > 0 {
		scfg.SilenceThreshold = session.ClampSilenceThreshold(time.Duration(saved.SilenceThresholdSeconds) * time.Second)
	}
	if saved.Language != "" {
		scfg.Language = saved.Language
	}
	a.phrase = a.resolvePhrase()
	sopts := append([]session.Option{session.WithMetrics(a.metrics)}, a.sessOpts...)
	a.listener = session.New(scfg, mantra.Build(a.phrase), listenSTT, providers.Reminder, sopts...)

	// ── 4. Recording ─────────────────────────────────────────────────────
	ropts := []recording.Option{
		recording.WithLanguage(scfg.Language),
		recording.WithReconnect(scfg.Reconnect),
		recording.WithMetrics(a.metrics),
	}
	if len(cfg.Recording.Substitutions) > 0 {
		ropts = append(ropts, recording.WithSubstitutions(cfg.Recording.Substitutions))
	}
	a.recorder = recording.New(recordSTT, ropts...)

	a.closers = append(a.closers, a.listener.Stop)
	a.closers = append(a.closers, func() error {
		a.CancelRecording()
		return nil
	})
	if c, ok := providers.Reminder.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	slog.Info("app ready",
		"mantra", a.phrase,
		"language", scfg.Language,
		"silence_threshold", scfg.SilenceThreshold,
		"recognisers", len(providers.Recognisers),
		"prefs", a.prefs.Path(),
	)
	return a, nil
}

// buildRecogniser wraps audio-consuming recognisers in a capture and puts a
// failover in front when fallbacks are configured. It returns nil when no
// recogniser is configured; the controllers then report recognition as
// unavailable.
func (a *App) buildRecogniser(tap func(audio.Frame)) (stt.Provider, error) {
	recs := a.providers.Recognisers
	if len(recs) == 0 {
		return nil, nil
	}
	wrap := func(r Recogniser) (stt.Provider, error) {
		if !r.NeedsAudio {
			return r.Provider, nil
		}
		if a.providers.Capture == nil {
			return nil, fmt.Errorf("recogniser %q needs audio but no capture is configured", r.Name)
		}
		return &audio.CapturedProvider{Provider: r.Provider, NewCapture: a.providers.Capture, Tap: tap}, nil
	}

	primary, err := wrap(recs[0])
	if err != nil {
		return nil, err
	}
	if len(recs) == 1 {
		return primary, nil
	}
	f := resilience.NewSTTFailover(recs[0].Name, primary, resilience.BreakerConfig{
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Info("recogniser circuit changed", "provider", name, "from", from.String(), "to", to.String())
		},
	})
	for _, r := range recs[1:] {
		p, err := wrap(r)
		if err != nil {
			return nil, err
		}
		f.Add(r.Name, p)
	}
	if tap == nil {
		a.failover = f
	}
	return f, nil
}

// resolvePhrase picks the saved mantra over the configured one.
func (a *App) resolvePhrase() string {
	if a.saved.Mantra != "" {
		return a.saved.Mantra
	}
	return a.configured.Mantra.Phrase
}

// Listener returns the listening controller.
func (a *App) Listener() *session.Controller { return a.listener }

// Recorder returns the recording controller.
func (a *App) Recorder() *recording.Controller { return a.recorder }

// Phrase returns the mantra the next listening session will use.
func (a *App) Phrase() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phrase
}

// Listen runs one listening session until ctx is cancelled or the session
// ends on its own. It returns the error that ended the session, if any.
func (a *App) Listen(ctx context.Context) error {
	ctx = observe.WithSession(ctx, newSessionID("listen"))
	if err := a.listener.Start(ctx); err != nil {
		return err
	}
	observe.Logger(ctx).Info("listening", "mantra", a.Phrase())

	select {
	case <-ctx.Done():
		return a.listener.Stop()
	case <-a.listener.Done():
		return a.listener.Err()
	}
}

// SetSilenceThreshold applies d to the next listening session and saves it.
func (a *App) SetSilenceThreshold(d time.Duration) error {
	d = session.ClampSilenceThreshold(d)
	a.listener.SetSilenceThreshold(d)
	saved, err := a.prefs.Update(func(p *prefs.Prefs) {
		p.SilenceThresholdSeconds = int(d / time.Second)
	})
	if err != nil {
		return fmt.Errorf("app: save silence threshold: %w", err)
	}
	a.mu.Lock()
	a.saved = saved
	a.mu.Unlock()
	return nil
}

// ForgetMantra clears the saved mantra. The configured phrase, if any,
// becomes active again.
func (a *App) ForgetMantra() error {
	saved, err := a.prefs.Update(func(p *prefs.Prefs) {
		p.Mantra, p.RecordedAt = "", time.Time{}
		if p.AudioFile != "" {
			if err := a.fs.Remove(p.AudioFile); err != nil {
				slog.Warn("could not remove recorded audio", "path", p.AudioFile, "err", err)
			}
			p.AudioFile = ""
		}
	})
	if err != nil {
		return fmt.Errorf("app: forget mantra: %w", err)
	}
	a.mu.Lock()
	a.saved = saved
	a.phrase = a.resolvePhrase()
	phrase := a.phrase
	a.mu.Unlock()
	a.listener.SetIndex(mantra.Build(phrase))
	return nil
}

// Shutdown tears down all subsystems in order. If ctx expires before all
// closers finish, remaining closers are skipped and ctx.Err() is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// newSessionID returns a short random id tagging the logs and spans of one
// session.
func newSessionID(kind string) string {
	return kind + "_" + uuid.New().String()[:8]
}
