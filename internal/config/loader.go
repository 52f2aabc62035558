package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":      {"deepgram", "whisper", "script"},
	"reminder": {"tone", "beeper", "log"},
	"audio":    {"microphone", "wav"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, validates it and applies
// defaults. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.STT.Name == "" {
		cfg.Providers.STT.Name = "deepgram"
	}
	if cfg.Providers.Reminder.Name == "" {
		cfg.Providers.Reminder.Name = "beeper"
	}
	if cfg.Providers.Audio.Name == "" {
		cfg.Providers.Audio.Name = "microphone"
	}
	if cfg.Mantra.Language == "" {
		cfg.Mantra.Language = "en-IN"
	}
	if cfg.Session.SilenceThresholdSeconds == 0 {
		cfg.Session.SilenceThresholdSeconds = 3
	}
	if cfg.Session.MismatchCooldownMS == 0 {
		cfg.Session.MismatchCooldownMS = 1500
	}
	if cfg.Session.TranscriptLimit == 0 {
		cfg.Session.TranscriptLimit = 2000
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
	}
	validateProviderName("reminder", cfg.Providers.Reminder.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)

	if cfg.Providers.STT.Name == "deepgram" && cfg.Providers.STT.APIKey == "" {
		errs = append(errs, errors.New("providers.stt: deepgram requires api_key"))
	}

	// The threshold is clamped at use, so out-of-range values only warn.
	if s := cfg.Session.SilenceThresholdSeconds; s < 0 {
		errs = append(errs, fmt.Errorf("session.silence_threshold_seconds %d must not be negative", s))
	} else if s != 0 && (s < 1 || s > 10) {
		slog.Warn("session.silence_threshold_seconds out of range; clamping to [1, 10]", "value", s)
	}
	if cfg.Session.MismatchCooldownMS < 0 {
		errs = append(errs, fmt.Errorf("session.mismatch_cooldown_ms %d must not be negative", cfg.Session.MismatchCooldownMS))
	}
	if cfg.Session.TranscriptLimit < 0 {
		errs = append(errs, fmt.Errorf("session.transcript_limit %d must not be negative", cfg.Session.TranscriptLimit))
	}
	rc := cfg.Session.Reconnect
	if rc.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("session.reconnect.max_retries %d must not be negative", rc.MaxRetries))
	}
	if rc.Backoff < 0 || rc.MaxBackoff < 0 {
		errs = append(errs, errors.New("session.reconnect backoff durations must not be negative"))
	}
	if rc.Backoff > 0 && rc.MaxBackoff > 0 && rc.MaxBackoff < rc.Backoff {
		errs = append(errs, fmt.Errorf("session.reconnect.max_backoff %v is shorter than backoff %v", rc.MaxBackoff, rc.Backoff))
	}

	for i, s := range cfg.Recording.Substitutions {
		if s.From == "" {
			errs = append(errs, fmt.Errorf("recording.substitutions[%d].from is required", i))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
