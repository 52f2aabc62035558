// Package session implements the listening session of japamala.
//
// A [Controller] owns one listening session at a time. While listening it
// keeps a recogniser stream open through a [Supervisor], feeds every
// transcript together with a 1s elapsed tick and a 250ms silence poll into a
// single [Machine], and calls the reminder emitter whenever the machine
// decides the user fell silent or drifted off the mantra.
//
// All state mutation happens on one loop goroutine per session. Ticks,
// polls and fragments are messages on that loop, so the Machine itself needs
// no locking and can be tested by feeding it synthetic message sequences.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/japamala/internal/mantra"
	"github.com/MrWong99/japamala/internal/observe"
	"github.com/MrWong99/japamala/pkg/provider/reminder"
	"github.com/MrWong99/japamala/pkg/provider/stt"
)

// keywordBoost is the recogniser boost applied to every mantra word.
const keywordBoost = 2

// Event is passed to the observer after every handled message.
type Event struct {
	Message Message
	Outcome Outcome
	State   State
}

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithMetrics sets the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock replaces time.Now as the source of message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithObserver registers fn to be called on the loop goroutine after every
// handled message. fn must not block.
func WithObserver(fn func(Event)) Option {
	return func(c *Controller) { c.observer = fn }
}

// Controller runs listening sessions. All methods are safe for concurrent
// use.
type Controller struct {
	provider stt.Provider
	emitter  reminder.Emitter
	metrics  *observe.Metrics
	now      func() time.Time
	observer func(Event)

	// lifecycle serialises Start and Stop.
	lifecycle sync.Mutex

	mu      sync.Mutex
	cfg     Config
	index   *mantra.Index
	machine *Machine
	run     *run
	lastErr error
}

// run is one listening session.
type run struct {
	index  *mantra.Index
	cancel context.CancelFunc
	ctx    context.Context
	msgs   chan Message
	done   chan struct{}
	sup    *Supervisor
	err    error
}

// New creates an idle Controller. provider may be nil, in which case Start
// fails with [ErrRecognitionUnavailable]. A nil emitter logs reminders.
func New(cfg Config, index *mantra.Index, provider stt.Provider, emitter reminder.Emitter, opts ...Option) *Controller {
	if emitter == nil {
		emitter = &reminder.Log{}
	}
	c := &Controller{
		provider: provider,
		emitter:  emitter,
		now:      time.Now,
		cfg:      cfg.withDefaults(),
		index:    index,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Start begins a new listening session. A session that is already running
// is stopped first, so there is never more than one recogniser stream.
//
// Start fails with [ErrNoMantraRecorded] when the index is empty and with an
// error wrapping [ErrRecognitionUnavailable] when the recogniser is missing
// or its first stream cannot be opened. In both cases no session starts.
func (c *Controller) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	_ = c.stopLocked()

	c.mu.Lock()
	cfg, index := c.cfg, c.index
	c.mu.Unlock()

	if index.Empty() {
		return ErrNoMantraRecorded
	}
	if c.provider == nil {
		return fmt.Errorf("%w: no recogniser configured", ErrRecognitionUnavailable)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		index:  index,
		ctx:    runCtx,
		cancel: cancel,
		msgs:   make(chan Message, 64),
		done:   make(chan struct{}),
	}
	r.sup = NewSupervisor(c.provider, streamConfig(cfg, index), cfg.Reconnect, c.metrics, func(t stt.Transcript) {
		c.deliver(r, t)
	})
	if err := r.sup.Open(runCtx); err != nil {
		cancel()
		return fmt.Errorf("%w: %w", ErrRecognitionUnavailable, err)
	}

	m := NewMachine(cfg, index)
	if err := m.Begin(c.now()); err != nil {
		_ = r.sup.Close()
		cancel()
		return err
	}

	c.mu.Lock()
	c.machine = m
	c.run = r
	c.lastErr = nil
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("listening session started",
		"mantra", index.RawPhrase,
		"language", cfg.Language,
		"silence_threshold", cfg.SilenceThreshold,
	)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return r.sup.Run(gctx) })
	g.Go(func() error { return c.loop(gctx, r, m, cfg) })
	go func() {
		err := g.Wait()
		c.finish(r, m, err)
	}()
	return nil
}

// Stop ends the running session and waits until its goroutines have exited.
// No reminder fires after Stop returns. It returns the error that ended the
// session on its own, if any. Stop on an idle Controller returns nil.
func (c *Controller) Stop() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.stopLocked()
}

func (c *Controller) stopLocked() error {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	r.cancel()
	<-r.done
	return r.err
}

// OnFragment injects a recognised fragment into the running session, as if
// the recogniser had delivered it. It is a no-op while idle.
func (c *Controller) OnFragment(t stt.Transcript) {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return
	}
	c.deliver(r, t)
}

// Snapshot returns a copy of the current session state. After a session
// ended it still holds the final transcript of that session.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine == nil {
		return State{}
	}
	return c.machine.State()
}

// Active reports whether a session is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run != nil
}

// Connected reports whether a session is running with an open recogniser
// stream.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	return r != nil && r.sup.Connected()
}

// Done returns a channel that is closed when the current session ends. On
// an idle Controller the returned channel is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.run.done
}

// Err returns the error that ended the most recent session on its own, for
// example [ErrRecognitionFailed]. It is nil while running and after Stop.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SetIndex replaces the mantra used by the next session. A running session
// keeps the index it started with.
func (c *Controller) SetIndex(index *mantra.Index) {
	c.mu.Lock()
	c.index = index
	c.mu.Unlock()
}

// SetSilenceThreshold changes the silence threshold for the next session.
// d is clamped to [MinSilenceThreshold, MaxSilenceThreshold].
func (c *Controller) SetSilenceThreshold(d time.Duration) {
	c.mu.Lock()
	c.cfg.SilenceThreshold = ClampSilenceThreshold(d)
	c.mu.Unlock()
}

// Config returns the configuration the next session will use.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// deliver stamps t and queues it on r's loop. It gives up when r ends.
func (c *Controller) deliver(r *run, t stt.Transcript) {
	msg := Message{Kind: MsgFragment, At: c.now(), Fragment: t}
	select {
	case r.msgs <- msg:
	case <-r.ctx.Done():
	}
}

// loop is the single consumer of all session messages.
func (c *Controller) loop(ctx context.Context, r *run, m *Machine, cfg Config) error {
	tick := time.NewTicker(cfg.TickInterval)
	defer tick.Stop()
	poll := time.NewTicker(cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			c.apply(ctx, r, m, Message{Kind: MsgTick, At: c.now()})
		case <-poll.C:
			c.apply(ctx, r, m, Message{Kind: MsgSilencePoll, At: c.now()})
		case msg := <-r.msgs:
			c.apply(ctx, r, m, msg)
		}
	}
}

// apply hands msg to the machine and carries out the outcome.
func (c *Controller) apply(ctx context.Context, r *run, m *Machine, msg Message) {
	// A message that raced with Stop must not act.
	if ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	out := m.Handle(msg)
	st := m.State()
	c.mu.Unlock()

	if msg.Kind == MsgFragment {
		c.recordFragment(ctx, r, msg.Fragment, out)
	}

	if out.Reminder != ReasonNone {
		c.emitter.Emit()
		c.metrics.RecordReminder(ctx, out.Reminder.String(), out.ChantSeconds)
		slog.Info("reminder fired",
			"reason", out.Reminder.String(),
			"chant_seconds", out.ChantSeconds,
		)
	}

	if c.observer != nil {
		c.observer(Event{Message: msg, Outcome: out, State: st})
	}
}

func (c *Controller) recordFragment(ctx context.Context, r *run, t stt.Transcript, out Outcome) {
	switch {
	case out.Discarded:
		c.metrics.RecordFragment(ctx, "discarded")
		return
	case t.IsFinal:
		c.metrics.RecordFragment(ctx, "final")
	default:
		c.metrics.RecordFragment(ctx, "interim")
		return
	}

	switch {
	case out.Matched:
		c.metrics.RecordMatch(ctx, "match")
	case out.Flagged:
		c.metrics.RecordMatch(ctx, "mismatch")
		cl := r.index.Closeness(t.Text)
		c.metrics.MismatchCloseness.Record(ctx, cl.Score)
		slog.Debug("mismatch heard",
			"text", t.Text,
			"confidence", t.Score(),
			"closeness", cl.Score,
			"phonetic", cl.Phonetic,
			"reminded", out.Reminder == ReasonMismatch,
		)
	default:
		c.metrics.RecordMatch(ctx, "ignored")
	}
}

// finish runs once both session goroutines have exited.
func (c *Controller) finish(r *run, m *Machine, err error) {
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	r.err = err

	c.mu.Lock()
	m.End()
	if c.run == r {
		c.run = nil
	}
	c.lastErr = err
	c.mu.Unlock()

	r.cancel()
	c.metrics.ActiveSessions.Add(context.Background(), -1)
	if err != nil {
		slog.Error("listening session ended", "err", err)
	} else {
		slog.Info("listening session stopped")
	}
	close(r.done)
}

// streamConfig builds the recogniser request for a session, boosting every
// distinct mantra word.
func streamConfig(cfg Config, index *mantra.Index) stt.StreamConfig {
	sc := stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   cfg.Language,
	}
	seen := make(map[string]bool, len(index.Tokens))
	for _, tok := range index.Tokens {
		if mantra.Canonicalize(tok) == "" || seen[tok] {
			continue
		}
		seen[tok] = true
		sc.Keywords = append(sc.Keywords, stt.KeywordBoost{Keyword: tok, Boost: keywordBoost})
	}
	return sc
}
