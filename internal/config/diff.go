package config

import "fmt"

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// MantraChanged is set when the configured phrase changed. A phrase
	// saved by recording still takes precedence.
	MantraChanged bool
	NewPhrase     string

	// SilenceThresholdChanged applies to the next listening session.
	SilenceThresholdChanged bool
	NewSilenceThresholdSecs int

	// RestartRequired lists sections that changed but are only read at
	// startup (providers, server address, language, reconnect tuning).
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Mantra.Phrase != new.Mantra.Phrase {
		d.MantraChanged = true
		d.NewPhrase = new.Mantra.Phrase
	}
	if old.Session.SilenceThresholdSeconds != new.Session.SilenceThresholdSeconds {
		d.SilenceThresholdChanged = true
		d.NewSilenceThresholdSecs = new.Session.SilenceThresholdSeconds
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !sameEntry(old.Providers.STT, new.Providers.STT) || !sameEntries(old.Providers.STTFallbacks, new.Providers.STTFallbacks) {
		d.RestartRequired = append(d.RestartRequired, "providers.stt")
	}
	if !sameEntry(old.Providers.Reminder, new.Providers.Reminder) {
		d.RestartRequired = append(d.RestartRequired, "providers.reminder")
	}
	if !sameEntry(old.Providers.Audio, new.Providers.Audio) {
		d.RestartRequired = append(d.RestartRequired, "providers.audio")
	}
	if old.Mantra.Language != new.Mantra.Language || old.Mantra.PrefsPath != new.Mantra.PrefsPath {
		d.RestartRequired = append(d.RestartRequired, "mantra")
	}
	if old.Session.MismatchCooldownMS != new.Session.MismatchCooldownMS ||
		old.Session.TranscriptLimit != new.Session.TranscriptLimit ||
		old.Session.Reconnect != new.Session.Reconnect {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	return d
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.MantraChanged && !d.SilenceThresholdChanged && len(d.RestartRequired) == 0
}

// sameEntry compares the scalar fields of two entries. Options are compared
// by their formatted form since they may hold maps.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(w) {
			return false
		}
	}
	return true
}

func sameEntries(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameEntry(a[i], b[i]) {
			return false
		}
	}
	return true
}
