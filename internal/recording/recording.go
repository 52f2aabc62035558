// Package recording captures the mantra phrase from speech.
//
// Recording mode does no matching: every final fragment is kept in order and
// the latest interim fragment is shown after them as a preview. Committing
// applies literal de-gluing substitutions (recognisers often hear
// "sitaram" for "sita ram") and returns the phrase to save.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/japamala/internal/observe"
	"github.com/MrWong99/japamala/internal/session"
	"github.com/MrWong99/japamala/pkg/provider/stt"
)

// ErrNoAudioCaptured is returned by Commit when nothing was recognised.
var ErrNoAudioCaptured = errors.New("recording: no audio captured")

// Substitution replaces a glued word with its spaced form.
type Substitution struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// DefaultSubstitutions are the de-gluing rules used when none are configured.
var DefaultSubstitutions = []Substitution{
	{From: "sitaram", To: "sita ram"},
	{From: "radheshyam", To: "radhe shyam"},
	{From: "harekrishna", To: "hare krishna"},
	{From: "omnamah", To: "om namah"},
	{From: "namahshivaya", To: "namah shivaya"},
}

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithLanguage sets the recognition locale.
func WithLanguage(lang string) Option {
	return func(c *Controller) { c.language = lang }
}

// WithSubstitutions replaces [DefaultSubstitutions]. Rules apply in order.
func WithSubstitutions(subs []Substitution) Option {
	return func(c *Controller) { c.subs = subs }
}

// WithReconnect sets the policy for reopening a stream that ends while
// recording.
func WithReconnect(p session.ReconnectPolicy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithMetrics sets the metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller records one phrase at a time. All methods are safe for
// concurrent use.
type Controller struct {
	provider stt.Provider
	language string
	subs     []Substitution
	policy   session.ReconnectPolicy
	metrics  *observe.Metrics

	lifecycle sync.Mutex

	mu      sync.Mutex
	finals  []string
	interim string
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// New returns an idle Controller. provider may be nil, in which case Start
// fails with session.ErrRecognitionUnavailable.
func New(provider stt.Provider, opts ...Option) *Controller {
	c := &Controller{
		provider: provider,
		subs:     DefaultSubstitutions,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start discards any previous capture and opens a recogniser stream.
func (c *Controller) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.stopLocked()
	c.mu.Lock()
	c.finals, c.interim, c.err = nil, "", nil
	c.mu.Unlock()

	if c.provider == nil {
		return fmt.Errorf("%w: no recogniser configured", session.ErrRecognitionUnavailable)
	}

	ctx, cancel := context.WithCancel(ctx)
	sup := session.NewSupervisor(c.provider, stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   c.language,
	}, c.policy, c.metrics, c.deliver)
	if err := sup.Open(ctx); err != nil {
		cancel()
		return fmt.Errorf("%w: %w", session.ErrRecognitionUnavailable, err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.cancel, c.done = cancel, done
	c.mu.Unlock()

	slog.Info("recording started", "language", c.language)
	go func() {
		defer close(done)
		if err := sup.Run(ctx); err != nil {
			slog.Error("recording stream failed", "err", err)
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
		}
	}()
	return nil
}

// Recording reports whether a capture is running.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Err returns the error that ended the capture on its own, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Preview returns every final fragment heard so far followed by the current
// interim fragment, separated by single spaces.
func (c *Controller) Preview() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previewLocked()
}

func (c *Controller) previewLocked() string {
	parts := append([]string(nil), c.finals...)
	if c.interim != "" {
		parts = append(parts, c.interim)
	}
	return strings.Join(parts, " ")
}

// Commit stops the capture and returns the de-glued phrase. It fails with
// [ErrNoAudioCaptured] when nothing but whitespace was heard.
func (c *Controller) Commit() (string, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.stopLocked()

	c.mu.Lock()
	text := c.previewLocked()
	c.finals, c.interim = nil, ""
	c.mu.Unlock()

	phrase := Apply(text, c.subs)
	if phrase == "" {
		return "", ErrNoAudioCaptured
	}
	slog.Info("mantra recorded", "phrase", phrase)
	return phrase, nil
}

// Cancel stops the capture and discards what was heard.
func (c *Controller) Cancel() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.stopLocked()
	c.mu.Lock()
	c.finals, c.interim = nil, ""
	c.mu.Unlock()
}

func (c *Controller) stopLocked() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Controller) deliver(t stt.Transcript) {
	text := strings.TrimSpace(t.Text)
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.IsFinal {
		if text != "" {
			c.finals = append(c.finals, text)
		}
		c.interim = ""
		return
	}
	c.interim = text
}

// Apply lowercases text, collapses whitespace and applies subs in order.
func Apply(text string, subs []Substitution) string {
	text = strings.ToLower(strings.Join(strings.Fields(text), " "))
	for _, s := range subs {
		if s.From == "" {
			continue
		}
		text = strings.ReplaceAll(text, strings.ToLower(s.From), s.To)
	}
	return strings.Join(strings.Fields(text), " ")
}
