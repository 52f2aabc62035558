package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/japamala/internal/config"
)

func TestDiff(t *testing.T) {
	t.Parallel()
	base := func() *config.Config {
		return &config.Config{
			Server: config.ServerConfig{LogLevel: config.LogInfo, ListenAddr: ":9464"},
			Providers: config.ProvidersConfig{
				STT:      config.ProviderEntry{Name: "deepgram", APIKey: "a", Options: map[string]any{"endpointing": 300}},
				Reminder: config.ProviderEntry{Name: "beeper"},
			},
			Mantra:  config.MantraConfig{Phrase: "sita ram", Language: "en-IN"},
			Session: config.SessionConfig{SilenceThresholdSeconds: 3},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		check   func(t *testing.T, d config.ConfigDiff)
		isEmpty bool
	}{
		{name: "identical", mutate: func(*config.Config) {}, isEmpty: true},
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name:   "mantra phrase",
			mutate: func(c *config.Config) { c.Mantra.Phrase = "hare krishna" },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.MantraChanged || d.NewPhrase != "hare krishna" || len(d.RestartRequired) != 0 {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name:   "silence threshold",
			mutate: func(c *config.Config) { c.Session.SilenceThresholdSeconds = 6 },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.SilenceThresholdChanged || d.NewSilenceThresholdSecs != 6 {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name:   "provider option",
			mutate: func(c *config.Config) { c.Providers.STT.Options = map[string]any{"endpointing": 500} },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !slices.Contains(d.RestartRequired, "providers.stt") {
					t.Errorf("RestartRequired = %v, want providers.stt", d.RestartRequired)
				}
			},
		},
		{
			name:   "fallback added",
			mutate: func(c *config.Config) { c.Providers.STTFallbacks = []config.ProviderEntry{{Name: "whisper"}} },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !slices.Contains(d.RestartRequired, "providers.stt") {
					t.Errorf("RestartRequired = %v, want providers.stt", d.RestartRequired)
				}
			},
		},
		{
			name:   "language",
			mutate: func(c *config.Config) { c.Mantra.Language = "hi-IN" },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !slices.Equal(d.RestartRequired, []string{"mantra"}) {
					t.Errorf("RestartRequired = %v, want [mantra]", d.RestartRequired)
				}
			},
		},
		{
			name:   "reconnect tuning",
			mutate: func(c *config.Config) { c.Session.Reconnect.MaxRetries = 2 },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !slices.Equal(d.RestartRequired, []string{"session"}) {
					t.Errorf("RestartRequired = %v, want [session]", d.RestartRequired)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := base(), base()
			tt.mutate(new)
			d := config.Diff(old, new)
			if d.Empty() != tt.isEmpty {
				t.Errorf("Empty() = %v, want %v (diff %+v)", d.Empty(), tt.isEmpty, d)
			}
			if tt.check != nil {
				tt.check(t, d)
			}
		})
	}
}
