package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/japamala/internal/app"
	"github.com/MrWong99/japamala/internal/config"
	"github.com/MrWong99/japamala/pkg/audio"
	"github.com/MrWong99/japamala/pkg/provider/reminder"
	"github.com/MrWong99/japamala/pkg/provider/reminder/beeper"
	"github.com/MrWong99/japamala/pkg/provider/reminder/tone"
	"github.com/MrWong99/japamala/pkg/provider/stt"
	"github.com/MrWong99/japamala/pkg/provider/stt/deepgram"
	"github.com/MrWong99/japamala/pkg/provider/stt/script"
	"github.com/MrWong99/japamala/pkg/provider/stt/whisper"
)

// audioRecognisers consume PCM from the configured audio capture.
var audioRecognisers = map[string]bool{
	"deepgram": true,
	"whisper":  true,
}

// registerBuiltinProviders registers every provider that ships with
// japamala.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ──────────────────────────────────────────────────────────────────
	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(e.BaseURL))
		}
		if ms := optInt(e.Options, "endpointing"); ms > 0 {
			opts = append(opts, deepgram.WithEndpointing(ms))
		}
		return deepgram.New(e.APIKey, opts...)
	})
	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if d := optDuration(e.Options, "quiet_gap"); d > 0 {
			opts = append(opts, whisper.WithQuietGap(d))
		}
		if d := optDuration(e.Options, "max_utterance"); d > 0 {
			opts = append(opts, whisper.WithMaxUtterance(d))
		}
		if v := optFloat(e.Options, "energy_threshold"); v > 0 {
			opts = append(opts, whisper.WithEnergyThreshold(v))
		}
		return whisper.New(e.BaseURL, opts...)
	})
	reg.RegisterSTT("script", func(e config.ProviderEntry) (stt.Provider, error) {
		path := optString(e.Options, "path")
		if path == "" {
			return nil, errors.New("script recogniser requires options.path")
		}
		var opts []script.Option
		if optBool(e.Options, "loop") {
			opts = append(opts, script.WithLoop())
		}
		if v := optFloat(e.Options, "speed"); v > 0 {
			opts = append(opts, script.WithSpeed(v))
		}
		return script.Open(afero.NewOsFs(), path, opts...)
	})

	// ── Reminder ─────────────────────────────────────────────────────────────
	reg.RegisterReminder("tone", func(e config.ProviderEntry) (reminder.Emitter, error) {
		var opts []tone.Option
		if hz := optFloat(e.Options, "frequency"); hz > 0 {
			opts = append(opts, tone.WithFrequency(hz))
		}
		if d := optDuration(e.Options, "duration"); d > 0 {
			opts = append(opts, tone.WithDuration(d))
		}
		if v := optFloat(e.Options, "volume"); v > 0 {
			opts = append(opts, tone.WithVolume(v))
		}
		return tone.New(opts...)
	})
	reg.RegisterReminder("beeper", func(e config.ProviderEntry) (reminder.Emitter, error) {
		var opts []beeper.Option
		if title := optString(e.Options, "notification"); title != "" {
			opts = append(opts, beeper.WithNotification(title))
		}
		if hz := optFloat(e.Options, "frequency"); hz > 0 {
			opts = append(opts, beeper.WithFrequency(hz))
		}
		if d := optDuration(e.Options, "duration"); d > 0 {
			opts = append(opts, beeper.WithDuration(d))
		}
		return beeper.New(opts...), nil
	})
	reg.RegisterReminder("log", func(config.ProviderEntry) (reminder.Emitter, error) {
		return &reminder.Log{}, nil
	})

	// ── Audio ────────────────────────────────────────────────────────────────
	reg.RegisterAudio("microphone", func(e config.ProviderEntry) (audio.Capture, error) {
		rate := optInt(e.Options, "sample_rate")
		if rate <= 0 {
			rate = 48000
		}
		return audio.NewMicrophone(rate), nil
	})
	reg.RegisterAudio("wav", func(e config.ProviderEntry) (audio.Capture, error) {
		path := optString(e.Options, "path")
		if path == "" {
			return nil, errors.New("wav capture requires options.path")
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		c, err := audio.NewWAVCapture(f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		if v, ok := e.Options["realtime"].(bool); ok {
			c.Realtime = v
		}
		return c, nil
	})
}

// buildProviders instantiates the configured providers. A recogniser that
// cannot be built is skipped with a warning, so listening later reports
// recognition as unavailable rather than the process refusing to start.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	providers := &app.Providers{
		Capture: func() (audio.Capture, error) {
			return reg.CreateAudio(cfg.Providers.Audio)
		},
	}

	entries := append([]config.ProviderEntry{cfg.Providers.STT}, cfg.Providers.STTFallbacks...)
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		p, err := reg.CreateSTT(e)
		if err != nil {
			if errors.Is(err, config.ErrProviderNotRegistered) {
				return nil, err
			}
			slog.Warn("recogniser unavailable", "provider", e.Name, "err", err)
			continue
		}
		providers.Recognisers = append(providers.Recognisers, app.Recogniser{
			Name:       e.Name,
			Provider:   p,
			NeedsAudio: audioRecognisers[e.Name],
		})
		slog.Info("provider created", "kind", "stt", "name", e.Name)
	}

	em, err := reg.CreateReminder(cfg.Providers.Reminder)
	switch {
	case errors.Is(err, tone.ErrUnavailable):
		slog.Warn("tone playback unavailable, falling back to system beep", "err", err)
		em = beeper.New()
	case err != nil:
		return nil, fmt.Errorf("reminder %q: %w", cfg.Providers.Reminder.Name, err)
	}
	providers.Reminder = em
	slog.Info("provider created", "kind", "reminder", "name", cfg.Providers.Reminder.Name)

	return providers, nil
}

// ── Option helpers ───────────────────────────────────────────────────────────

// optString returns the string value of key in opts, or "".
func optString(opts map[string]any, key string) string {
	if v, ok := opts[key].(string); ok {
		return v
	}
	return ""
}

// optInt accepts YAML integers and floats.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

func optFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

func optBool(opts map[string]any, key string) bool {
	v, _ := opts[key].(bool)
	return v
}

// optDuration accepts Go duration strings ("600ms") or integer milliseconds.
func optDuration(opts map[string]any, key string) time.Duration {
	switch v := opts[key].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0
		}
		return d
	case int:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v * float64(time.Millisecond))
	}
	return 0
}
