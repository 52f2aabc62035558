package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/japamala/internal/mantra"
	remmock "github.com/MrWong99/japamala/pkg/provider/reminder/mock"
	"github.com/MrWong99/japamala/pkg/provider/stt"
	sttmock "github.com/MrWong99/japamala/pkg/provider/stt/mock"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testConfig polls often and never ticks on its own.
func testConfig() Config {
	return Config{
		TickInterval: time.Hour,
		PollInterval: 2 * time.Millisecond,
		Language:     "en-IN",
		Reconnect:    fastPolicy,
	}
}

type harness struct {
	ctrl     *Controller
	provider *sttmock.Provider
	session  *sttmock.Session
	emitter  *remmock.Emitter
	clock    *fakeClock
}

func newHarness(t *testing.T, phrase string, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		session: sttmock.NewSession(),
		emitter: &remmock.Emitter{Signal: make(chan struct{}, 16)},
		clock:   &fakeClock{now: t0},
	}
	h.provider = &sttmock.Provider{Sessions: []stt.SessionHandle{h.session}}
	opts = append([]Option{WithClock(h.clock.Now), WithMetrics(newTestMetrics(t))}, opts...)
	h.ctrl = New(testConfig(), mantra.Build(phrase), h.provider, h.emitter, opts...)
	t.Cleanup(func() { _ = h.ctrl.Stop() })
	return h
}

func (h *harness) waitReminder(t *testing.T) {
	t.Helper()
	select {
	case <-h.emitter.Signal:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a reminder")
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestController_StartWithoutMantra(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")

	if err := h.ctrl.Start(t.Context()); !errors.Is(err, ErrNoMantraRecorded) {
		t.Fatalf("Start() = %v, want ErrNoMantraRecorded", err)
	}
	if h.ctrl.Active() {
		t.Error("controller should stay idle")
	}
	if h.provider.CallCount() != 0 {
		t.Error("recogniser must not be opened without a mantra")
	}
}

func TestController_StartWithoutRecogniser(t *testing.T) {
	t.Parallel()
	ctrl := New(testConfig(), mantra.Build("om"), nil, &remmock.Emitter{}, WithMetrics(newTestMetrics(t)))

	if err := ctrl.Start(t.Context()); !errors.Is(err, ErrRecognitionUnavailable) {
		t.Fatalf("Start() = %v, want ErrRecognitionUnavailable", err)
	}
}

func TestController_StartOpenFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "om")
	h.provider.StartStreamErr = errors.New("401 unauthorized")

	err := h.ctrl.Start(t.Context())
	if !errors.Is(err, ErrRecognitionUnavailable) {
		t.Fatalf("Start() = %v, want ErrRecognitionUnavailable", err)
	}
	if h.ctrl.Active() {
		t.Error("controller should stay idle after a failed open")
	}
}

func TestController_StreamConfig(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "Om Namah Shivaya om")
	if err := h.ctrl.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cfg := h.provider.StartStreamCalls[0].Cfg
	if cfg.Language != "en-IN" {
		t.Errorf("Language = %q, want en-IN", cfg.Language)
	}
	want := []string{"om", "namah", "shivaya"}
	if len(cfg.Keywords) != len(want) {
		t.Fatalf("Keywords = %+v, want %v", cfg.Keywords, want)
	}
	for i, kw := range cfg.Keywords {
		if kw.Keyword != want[i] || kw.Boost <= 0 {
			t.Errorf("Keywords[%d] = %+v, want %q boosted", i, kw, want[i])
		}
	}
}

func TestController_MismatchReminder(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "om namah shivaya")
	if err := h.ctrl.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !h.ctrl.Connected() {
		t.Error("expected Connected() while listening")
	}

	h.session.FinalsCh <- stt.Transcript{Text: "om namah shivaya", IsFinal: true, Confidence: 0.9, HasConfidence: true}
	eventually(t, func() bool { return h.ctrl.Snapshot().LiveFinalText == "om namah shivaya" }, "final transcript never applied")
	if h.emitter.Count() != 0 {
		t.Fatalf("matching chant fired %d reminders", h.emitter.Count())
	}

	h.clock.Advance(500 * time.Millisecond)
	h.session.FinalsCh <- stt.Transcript{Text: "hello there friend", IsFinal: true, Confidence: 0.8, HasConfidence: true}
	h.waitReminder(t)

	st := h.ctrl.Snapshot()
	if st.LiveFinalText != "om namah shivaya hello there friend" {
		t.Errorf("LiveFinalText = %q", st.LiveFinalText)
	}
	if !st.LastMismatchReminderAt.Equal(at(500 * time.Millisecond)) {
		t.Errorf("LastMismatchReminderAt = %v", st.LastMismatchReminderAt)
	}
}

func TestController_SilenceReminder(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "sita ram")
	if err := h.ctrl.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.clock.Advance(3 * time.Second)
	h.waitReminder(t)
	if got := h.emitter.Count(); got != 1 {
		t.Errorf("reminders = %d, want 1 until the clock moves again", got)
	}

	h.clock.Advance(3 * time.Second)
	h.waitReminder(t)
}

func TestController_OnFragment(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "sita ram")

	// Idle: ignored.
	h.ctrl.OnFragment(stt.Transcript{Text: "radha", IsFinal: true, Confidence: 0.8, HasConfidence: true})

	if err := h.ctrl.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.ctrl.OnFragment(stt.Transcript{Text: "radha", IsFinal: true, Confidence: 0.8, HasConfidence: true})
	h.waitReminder(t)
	if got := h.emitter.Count(); got != 1 {
		t.Errorf("reminders = %d, want 1", got)
	}
}

func TestController_Observer(t *testing.T) {
	t.Parallel()
	events := make(chan Event, 64)
	h := newHarness(t, "om", WithObserver(func(e Event) {
		if e.Message.Kind == MsgFragment {
			events <- e
		}
	}))
	if err := h.ctrl.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.session.PartialsCh <- stt.Transcript{Text: "om om", Confidence: 0.6, HasConfidence: true}
	select {
	case e := <-events:
		if !e.Outcome.Matched || e.State.LiveInterimText != "om om" {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("observer not called")
	}
}

func TestController_StopSilencesSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "om")
	if err := h.ctrl.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.ctrl.OnFragment(stt.Transcript{Text: "om", IsFinal: true})
	eventually(t, func() bool { return h.ctrl.Snapshot().LiveFinalText == "om" }, "fragment never applied")

	done := h.ctrl.Done()
	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-done:
	default:
		t.Fatal("Done() not closed after Stop")
	}

	st := h.ctrl.Snapshot()
	if st.Active || st.ChantElapsed != 0 || st.LiveInterimText != "" {
		t.Errorf("state after Stop = %+v", st)
	}
	if st.LiveFinalText != "om" {
		t.Errorf("LiveFinalText = %q, want it retained after Stop", st.LiveFinalText)
	}
	if h.session.Closes() == 0 {
		t.Error("recogniser stream not closed on Stop")
	}

	h.clock.Advance(time.Minute)
	h.ctrl.OnFragment(stt.Transcript{Text: "hello there friend", IsFinal: true})
	time.Sleep(20 * time.Millisecond)
	if got := h.emitter.Count(); got != 0 {
		t.Errorf("reminders after Stop = %d, want 0", got)
	}
	if err := h.ctrl.Err(); err != nil {
		t.Errorf("Err() = %v after Stop, want nil", err)
	}
	if err := h.ctrl.Stop(); err != nil {
		t.Errorf("second Stop() = %v, want nil", err)
	}
}

func TestController_StartReplacesRunningSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "om")
	if err := h.ctrl.Start(t.Context()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := h.ctrl.Start(t.Context()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	if got := h.provider.CallCount(); got != 2 {
		t.Errorf("StartStream calls = %d, want 2", got)
	}
	if h.session.Closes() == 0 {
		t.Error("first stream must be closed before the second opens")
	}
	if !h.ctrl.Active() {
		t.Error("second session should be running")
	}
}

func TestController_RecognitionFailureEndsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "om")
	h.session.End(errors.New("socket closed"))
	h.provider.StartStreamErrs = []error{nil}
	h.provider.StartStreamErr = errors.New("still down")

	if err := h.ctrl.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-h.ctrl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after reconnects failed")
	}
	if err := h.ctrl.Err(); !errors.Is(err, ErrRecognitionFailed) {
		t.Errorf("Err() = %v, want ErrRecognitionFailed", err)
	}
	if h.ctrl.Active() {
		t.Error("controller should be idle")
	}
}

func TestController_ContextCancelEndsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "om")
	ctx, cancel := context.WithCancel(t.Context())
	if err := h.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := h.ctrl.Done()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after context cancel")
	}
	if err := h.ctrl.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestController_NextSessionSettings(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "om")

	h.ctrl.SetSilenceThreshold(42 * time.Second)
	if got := h.ctrl.Config().SilenceThreshold; got != MaxSilenceThreshold {
		t.Errorf("SilenceThreshold = %v, want clamp to %v", got, MaxSilenceThreshold)
	}

	h.ctrl.SetIndex(mantra.Build(""))
	if err := h.ctrl.Start(t.Context()); !errors.Is(err, ErrNoMantraRecorded) {
		t.Errorf("Start() with cleared mantra = %v, want ErrNoMantraRecorded", err)
	}
}
