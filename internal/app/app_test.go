package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/japamala/internal/app"
	"github.com/MrWong99/japamala/internal/config"
	"github.com/MrWong99/japamala/internal/observe"
	"github.com/MrWong99/japamala/internal/prefs"
	"github.com/MrWong99/japamala/internal/recording"
	"github.com/MrWong99/japamala/internal/session"
	"github.com/MrWong99/japamala/pkg/audio"
	remindermock "github.com/MrWong99/japamala/pkg/provider/reminder/mock"
	"github.com/MrWong99/japamala/pkg/provider/stt"
	sttmock "github.com/MrWong99/japamala/pkg/provider/stt/mock"
)

const prefsPath = "/home/chanter/.config/japamala/prefs.yaml"

// testConfig returns a minimal config with the given mantra phrase.
func testConfig(phrase string) *config.Config {
	cfg := config.Default()
	cfg.Providers.STT.Name = "script"
	cfg.Mantra.Phrase = phrase
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type fixture struct {
	app   *app.App
	fs    afero.Fs
	store *prefs.Store
	stt   *sttmock.Provider
	cue   *remindermock.Emitter
}

func newFixture(t *testing.T, cfg *config.Config, saved *prefs.Prefs, opts ...app.Option) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	store := prefs.NewStore(fs, prefsPath)
	if saved != nil {
		if err := store.Save(*saved); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	f := &fixture{fs: fs, store: store, stt: &sttmock.Provider{}, cue: &remindermock.Emitter{}}
	providers := &app.Providers{
		Recognisers: []app.Recogniser{{Name: "script", Provider: f.stt}},
		Reminder:    f.cue,
	}
	base := []app.Option{app.WithFs(fs), app.WithPrefsStore(store), app.WithMetrics(testMetrics(t))}
	a, err := app.New(context.Background(), cfg, providers, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	f.app = a
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNew_MantraPrecedence(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		configured string
		saved      *prefs.Prefs
		want       string
	}{
		{name: "configured only", configured: "sita ram", want: "sita ram"},
		{name: "saved wins", configured: "sita ram", saved: &prefs.Prefs{Mantra: "radhe shyam"}, want: "radhe shyam"},
		{name: "saved without config", saved: &prefs.Prefs{Mantra: "om namah shivaya"}, want: "om namah shivaya"},
		{name: "nothing", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, testConfig(tt.configured), tt.saved)
			if got := f.app.Phrase(); got != tt.want {
				t.Errorf("Phrase() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNew_SavedThresholdAndLanguage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig("sita ram"), &prefs.Prefs{SilenceThresholdSeconds: 7, Language: "hi-IN"})
	cfg := f.app.Listener().Config()
	if cfg.SilenceThreshold != 7*time.Second {
		t.Errorf("SilenceThreshold = %v, want 7s", cfg.SilenceThreshold)
	}
	if cfg.Language != "hi-IN" {
		t.Errorf("Language = %q, want hi-IN", cfg.Language)
	}
}

func TestNew_AudioRecogniserNeedsCapture(t *testing.T) {
	t.Parallel()
	providers := &app.Providers{
		Recognisers: []app.Recogniser{{Name: "deepgram", Provider: &sttmock.Provider{}, NeedsAudio: true}},
	}
	_, err := app.New(context.Background(), testConfig("om"), providers,
		app.WithFs(afero.NewMemMapFs()),
		app.WithPrefsStore(prefs.NewStore(afero.NewMemMapFs(), prefsPath)),
		app.WithMetrics(testMetrics(t)),
	)
	if err == nil || !strings.Contains(err.Error(), "needs audio") {
		t.Fatalf("New() = %v, want needs-audio error", err)
	}
}

func TestListen_NoMantra(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(""), nil)
	if err := f.app.Listen(context.Background()); !errors.Is(err, session.ErrNoMantraRecorded) {
		t.Fatalf("Listen() = %v, want ErrNoMantraRecorded", err)
	}
}

func TestListen_RunsUntilCancelled(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig("sita ram"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.app.Listen(ctx) }()

	waitFor(t, func() bool { return f.app.Status().Listening })
	sess := f.stt.LastSession().(*sttmock.Session)
	sess.FinalsCh <- stt.Transcript{Text: "sita ram sita ram", IsFinal: true}
	waitFor(t, func() bool { return strings.Contains(f.app.Status().Transcript, "sita ram") })

	if got := f.stt.StartStreamCalls[0].Cfg.Keywords; len(got) != 2 {
		t.Errorf("keywords = %+v, want sita and ram", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Listen() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
	if f.app.Status().Listening {
		t.Error("still listening after Listen returned")
	}
}

func TestRecording_CommitSavesMantra(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig("sita ram"), nil)

	if err := f.app.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	sess := f.stt.LastSession().(*sttmock.Session)
	sess.FinalsCh <- stt.Transcript{Text: "Hare Krishna harekrishna", IsFinal: true}
	waitFor(t, func() bool { return f.app.Recorder().Preview() != "" })

	phrase, err := f.app.CommitRecording()
	if err != nil {
		t.Fatalf("CommitRecording: %v", err)
	}
	if phrase != "hare krishna hare krishna" {
		t.Errorf("phrase = %q, want de-glued phrase", phrase)
	}
	if got := f.app.Phrase(); got != phrase {
		t.Errorf("Phrase() = %q, want %q", got, phrase)
	}

	saved, err := f.store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if saved.Mantra != phrase || saved.RecordedAt.IsZero() {
		t.Errorf("saved prefs = %+v", saved)
	}
	if saved.Language != "en-IN" {
		t.Errorf("saved language = %q, want en-IN", saved.Language)
	}
}

func TestRecording_CommitEmpty(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig("sita ram"), nil)
	if err := f.app.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if _, err := f.app.CommitRecording(); !errors.Is(err, recording.ErrNoAudioCaptured) {
		t.Fatalf("CommitRecording() = %v, want ErrNoAudioCaptured", err)
	}
	if f.app.Phrase() != "sita ram" {
		t.Errorf("Phrase() changed to %q", f.app.Phrase())
	}
	if ok, _ := afero.Exists(f.fs, prefsPath); ok {
		t.Error("preferences written for an empty recording")
	}
}

// frameCapture emits frames until cancelled.
type frameCapture struct {
	mu     sync.Mutex
	closed bool
}

func (c *frameCapture) Start(ctx context.Context) (<-chan audio.Frame, error) {
	out := make(chan audio.Frame)
	go func() {
		defer close(out)
		frame := audio.Frame{Data: make([]byte, 640), SampleRate: 16000, Channels: 1}
		for {
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	return out, nil
}

func (c *frameCapture) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func TestRecording_KeepsAudio(t *testing.T) {
	t.Parallel()
	cfg := testConfig("")
	cfg.Recording.AudioDir = "/audio"

	fs := afero.NewMemMapFs()
	store := prefs.NewStore(fs, prefsPath)
	rec := &sttmock.Provider{}
	providers := &app.Providers{
		Recognisers: []app.Recogniser{{Name: "whisper", Provider: rec, NeedsAudio: true}},
		Capture:     func() (audio.Capture, error) { return &frameCapture{}, nil },
	}
	a, err := app.New(context.Background(), cfg, providers, app.WithFs(fs), app.WithPrefsStore(store), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	if err := a.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	sess := rec.LastSession().(*sttmock.Session)
	waitFor(t, func() bool { return sess.AudioBytes() >= 640*5 })
	sess.FinalsCh <- stt.Transcript{Text: "om", IsFinal: true}
	waitFor(t, func() bool { return a.Recorder().Preview() == "om" })

	if _, err := a.CommitRecording(); err != nil {
		t.Fatalf("CommitRecording: %v", err)
	}
	saved, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !strings.HasPrefix(saved.AudioFile, "/audio/mantra-") {
		t.Fatalf("AudioFile = %q", saved.AudioFile)
	}
	info, err := fs.Stat(saved.AudioFile)
	if err != nil {
		t.Fatalf("stat recorded audio: %v", err)
	}
	if info.Size() <= 44 {
		t.Errorf("recorded audio size = %d, want samples after the header", info.Size())
	}

	if err := a.ForgetMantra(); err != nil {
		t.Fatalf("ForgetMantra: %v", err)
	}
	if ok, _ := afero.Exists(fs, saved.AudioFile); ok {
		t.Error("recorded audio not removed by ForgetMantra")
	}
	if a.Phrase() != "" {
		t.Errorf("Phrase() = %q after ForgetMantra", a.Phrase())
	}
}

func TestRecording_CancelRemovesAudio(t *testing.T) {
	t.Parallel()
	cfg := testConfig("")
	cfg.Recording.AudioDir = "/audio"
	fs := afero.NewMemMapFs()
	providers := &app.Providers{
		Recognisers: []app.Recogniser{{Name: "whisper", Provider: &sttmock.Provider{}, NeedsAudio: true}},
		Capture:     func() (audio.Capture, error) { return &frameCapture{}, nil },
	}
	a, err := app.New(context.Background(), cfg, providers,
		app.WithFs(fs), app.WithPrefsStore(prefs.NewStore(fs, prefsPath)), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	if err := a.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	a.CancelRecording()

	files, err := afero.ReadDir(fs, "/audio")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("audio dir holds %d files after cancel, want 0", len(files))
	}
}

func TestSetSilenceThreshold(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig("sita ram"), nil)
	if err := f.app.SetSilenceThreshold(25 * time.Second); err != nil {
		t.Fatalf("SetSilenceThreshold: %v", err)
	}
	if got := f.app.Listener().Config().SilenceThreshold; got != 10*time.Second {
		t.Errorf("SilenceThreshold = %v, want clamped 10s", got)
	}
	saved, _ := f.store.Load()
	if saved.SilenceThresholdSeconds != 10 {
		t.Errorf("saved threshold = %d, want 10", saved.SilenceThresholdSeconds)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	t.Run("configured mantra", func(t *testing.T) {
		t.Parallel()
		lv := new(slog.LevelVar)
		f := newFixture(t, testConfig("sita ram"), nil, app.WithLogLevel(lv))
		old := testConfig("sita ram")
		next := testConfig("radhe shyam")
		next.Server.LogLevel = config.LogDebug
		next.Session.SilenceThresholdSeconds = 5

		f.app.ApplyConfig(old, next)
		if f.app.Phrase() != "radhe shyam" {
			t.Errorf("Phrase() = %q, want radhe shyam", f.app.Phrase())
		}
		if lv.Level() != slog.LevelDebug {
			t.Errorf("log level = %v, want debug", lv.Level())
		}
		if got := f.app.Listener().Config().SilenceThreshold; got != 5*time.Second {
			t.Errorf("SilenceThreshold = %v, want 5s", got)
		}
	})

	t.Run("recorded mantra wins", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, testConfig("sita ram"), &prefs.Prefs{Mantra: "om", SilenceThresholdSeconds: 4})
		next := testConfig("radhe shyam")
		next.Session.SilenceThresholdSeconds = 9

		f.app.ApplyConfig(testConfig("sita ram"), next)
		if f.app.Phrase() != "om" {
			t.Errorf("Phrase() = %q, want om", f.app.Phrase())
		}
		if got := f.app.Listener().Config().SilenceThreshold; got != 4*time.Second {
			t.Errorf("SilenceThreshold = %v, want saved 4s", got)
		}
	})
}

func TestHandler(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig("sita ram"), nil)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("japamala_reminders_total 0\n"))
	})
	srv := httptest.NewServer(f.app.Handler(metrics))
	defer srv.Close()

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/healthz", http.StatusOK, `"status":"ok"`},
		{"/readyz", http.StatusOK, `"recogniser":"ok"`},
		{"/metrics", http.StatusOK, "japamala_reminders_total"},
		{"/status", http.StatusOK, `"mantra":"sita ram"`},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			resp, err := srv.Client().Get(srv.URL + tc.path)
			if err != nil {
				t.Fatalf("GET %s: %v", tc.path, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			if !strings.Contains(string(body), tc.wantBody) {
				t.Errorf("body = %q, want it to contain %q", body, tc.wantBody)
			}
		})
	}
}

func TestStatus_JSON(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig("sita ram"), nil)
	data, err := json.Marshal(f.app.Status())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["listening"] != false || got["silence_threshold_seconds"] != float64(3) {
		t.Errorf("status = %v", got)
	}
	if _, ok := got["last_valid_utterance_at"]; ok {
		t.Error("zero timestamp should be omitted")
	}
}

func TestRun_StopsWhenTaskReturns(t *testing.T) {
	t.Parallel()
	cfg := testConfig("sita ram")
	cfg.Server.ListenAddr = "127.0.0.1:0"
	f := newFixture(t, cfg, nil)

	ran := false
	err := f.app.Run(context.Background(), nil, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if !ran {
		t.Error("task not run")
	}
}

func TestRun_TaskError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig("sita ram"), nil)
	want := errors.New("boom")
	if err := f.app.Run(context.Background(), nil, func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("Run() = %v, want %v", err, want)
	}
}
