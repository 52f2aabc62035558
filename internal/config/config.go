// Package config provides the configuration schema, loader, provider registry
// and hot-reload watcher for japamala.
package config

import (
	"time"

	"github.com/MrWong99/japamala/internal/recording"
	"github.com/MrWong99/japamala/internal/session"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for japamala.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Mantra    MantraConfig    `yaml:"mantra"`
	Session   SessionConfig   `yaml:"session"`
	Recording RecordingConfig `yaml:"recording"`
}

// ServerConfig holds the observability endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the address serving /metrics, /healthz and /readyz
	// (e.g. "127.0.0.1:9464"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig selects the collaborators. Each entry names a provider
// registered in the [Registry].
type ProvidersConfig struct {
	// STT is the primary speech recogniser.
	STT ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when the primary recogniser fails.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	// Reminder selects the cue played on silence or mismatch.
	Reminder ProviderEntry `yaml:"reminder"`

	// Audio selects the capture feeding recognisers that need raw PCM.
	Audio ProviderEntry `yaml:"audio"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "deepgram", "tone").
	Name string `yaml:"name"`

	// APIKey authenticates against hosted services.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider (e.g. "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// MantraConfig holds the phrase to chant and where preferences are kept.
type MantraConfig struct {
	// Phrase is the mantra used when no recorded phrase is saved.
	Phrase string `yaml:"phrase"`

	// Language is the BCP-47 recognition locale (e.g. "en-IN", "hi-IN").
	Language string `yaml:"language"`

	// PrefsPath is the preferences file. Empty uses the user config dir.
	PrefsPath string `yaml:"prefs_path"`
}

// SessionConfig tunes the listening session.
type SessionConfig struct {
	// SilenceThresholdSeconds is clamped to [1, 10]. Defaults to 3.
	SilenceThresholdSeconds int `yaml:"silence_threshold_seconds"`

	// MismatchCooldownMS spaces mismatch reminders. Defaults to 1500.
	MismatchCooldownMS int `yaml:"mismatch_cooldown_ms"`

	// TranscriptLimit bounds the live transcript in characters. Defaults to 2000.
	TranscriptLimit int `yaml:"transcript_limit"`

	// Reconnect bounds recogniser restarts.
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig mirrors [session.ReconnectPolicy].
type ReconnectConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// RecordingConfig tunes mantra recording.
type RecordingConfig struct {
	// Substitutions replace the default de-gluing rules when non-empty.
	Substitutions []recording.Substitution `yaml:"substitutions"`

	// AudioDir, when set, keeps a WAV of every recording in this directory.
	AudioDir string `yaml:"audio_dir"`
}

// SilenceThreshold returns the configured threshold as a clamped duration.
func (s SessionConfig) SilenceThreshold() time.Duration {
	if s.SilenceThresholdSeconds == 0 {
		return session.DefaultSilenceThreshold
	}
	return session.ClampSilenceThreshold(time.Duration(s.SilenceThresholdSeconds) * time.Second)
}

// SessionConfig converts the YAML settings for the session controller.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		SilenceThreshold: c.Session.SilenceThreshold(),
		MismatchCooldown: time.Duration(c.Session.MismatchCooldownMS) * time.Millisecond,
		TranscriptLimit:  c.Session.TranscriptLimit,
		Language:         c.Mantra.Language,
		Reconnect: session.ReconnectPolicy{
			MaxRetries: c.Session.Reconnect.MaxRetries,
			Backoff:    c.Session.Reconnect.Backoff,
			MaxBackoff: c.Session.Reconnect.MaxBackoff,
		},
	}
}
