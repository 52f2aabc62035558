package session

import (
	"strings"
	"time"

	"github.com/MrWong99/japamala/internal/mantra"
	"github.com/MrWong99/japamala/pkg/provider/stt"
)

// MessageKind classifies the inputs of a [Machine].
type MessageKind int

const (
	// MsgFragment carries a recognised fragment.
	MsgFragment MessageKind = iota

	// MsgTick advances the chant-elapsed counter by one second.
	MsgTick

	// MsgSilencePoll checks the silence window.
	MsgSilencePoll
)

// String returns the human-readable name of the message kind.
func (k MessageKind) String() string {
	switch k {
	case MsgFragment:
		return "fragment"
	case MsgTick:
		return "tick"
	case MsgSilencePoll:
		return "silence_poll"
	default:
		return "unknown"
	}
}

// Message is one serialised input to a [Machine]. At is the monotonic clock
// reading when the message was produced.
type Message struct {
	Kind     MessageKind
	At       time.Time
	Fragment stt.Transcript
}

// Reason says why a reminder fired.
type Reason int

const (
	// ReasonNone means no reminder fired.
	ReasonNone Reason = iota

	// ReasonSilence fires when no valid utterance was heard for the
	// silence threshold.
	ReasonSilence

	// ReasonMismatch fires when a final fragment is unrelated speech.
	ReasonMismatch
)

// String returns the metric label of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonSilence:
		return "silence"
	case ReasonMismatch:
		return "mismatch"
	default:
		return "none"
	}
}

// Outcome describes what handling one message did.
type Outcome struct {
	// Reminder is the reason a reminder fired, or ReasonNone.
	Reminder Reason

	// ChantSeconds is the chant time the reminder ended. Only set when a
	// reminder fired.
	ChantSeconds int

	// Matched is true when a fragment matched the mantra.
	Matched bool

	// Flagged is true when a final fragment was judged real unrelated
	// speech, whether or not the cooldown let a reminder fire.
	Flagged bool

	// Discarded is true when an interim fragment was too uncertain to use.
	Discarded bool
}

// Machine is the listening-session state machine. It is a plain,
// single-threaded value: the [Controller] feeds it from one goroutine, and
// tests feed it synthetic message sequences directly.
type Machine struct {
	cfg   Config
	index *mantra.Index
	state State
}

// NewMachine returns an idle Machine for index.
func NewMachine(cfg Config, index *mantra.Index) *Machine {
	return &Machine{cfg: cfg.withDefaults(), index: index}
}

// Begin enters the listening state at now. It fails with
// [ErrNoMantraRecorded] when the index is empty and the machine stays idle.
func (m *Machine) Begin(now time.Time) error {
	if m.index.Empty() {
		return ErrNoMantraRecorded
	}
	m.state = State{
		Active:               true,
		LastValidUtteranceAt: now,
	}
	return nil
}

// End leaves the listening state. The final transcript is kept for
// display; the chant counter and the interim text are cleared.
func (m *Machine) End() {
	m.state.Active = false
	m.state.ChantElapsed = 0
	m.state.LiveInterimText = ""
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	return m.state
}

// Handle applies msg. Messages that arrive while the machine is idle are
// ignored.
func (m *Machine) Handle(msg Message) Outcome {
	if !m.state.Active {
		return Outcome{}
	}
	switch msg.Kind {
	case MsgTick:
		m.state.ChantElapsed++
	case MsgSilencePoll:
		if msg.At.Sub(m.state.LastValidUtteranceAt) >= m.cfg.SilenceThreshold {
			return m.fire(ReasonSilence, msg.At)
		}
	case MsgFragment:
		if msg.Fragment.IsFinal {
			return m.handleFinal(msg.Fragment, msg.At)
		}
		return m.handleInterim(msg.Fragment, msg.At)
	}
	return Outcome{}
}

// handleInterim uses an interim fragment only to notice a valid utterance
// early. Interim data never causes a mismatch reminder and never clears the
// mismatch cooldown.
func (m *Machine) handleInterim(f stt.Transcript, at time.Time) Outcome {
	if f.Score() < m.cfg.InterimMinConfidence {
		return Outcome{Discarded: true}
	}
	text := strings.TrimSpace(f.Text)
	m.state.LiveInterimText = text
	if m.index.Matches(text) {
		m.state.LastValidUtteranceAt = at
		return Outcome{Matched: true}
	}
	return Outcome{}
}

func (m *Machine) handleFinal(f stt.Transcript, at time.Time) Outcome {
	text := strings.TrimSpace(f.Text)
	m.state.LiveInterimText = ""
	if !mantra.HasLetters(text) {
		return Outcome{}
	}
	m.state.LiveFinalText = appendBounded(m.state.LiveFinalText, text, m.cfg.TranscriptLimit)

	if m.index.Matches(text) {
		m.state.LastValidUtteranceAt = at
		m.state.LastMismatchReminderAt = time.Time{}
		return Outcome{Matched: true}
	}

	if !m.index.MismatchWorthFlagging(text, f.Score()) {
		return Outcome{}
	}
	last := m.state.LastMismatchReminderAt
	if !last.IsZero() && at.Sub(last) <= m.cfg.MismatchCooldown {
		return Outcome{Flagged: true}
	}
	out := m.fire(ReasonMismatch, at)
	out.Flagged = true
	return out
}

// fire records a reminder. Every reminder restarts the silence window so the
// silence and mismatch detectors never double-beep.
func (m *Machine) fire(reason Reason, at time.Time) Outcome {
	out := Outcome{Reminder: reason, ChantSeconds: m.state.ChantElapsed}
	m.state.ChantElapsed = 0
	m.state.LastValidUtteranceAt = at
	if reason == ReasonMismatch {
		m.state.LastMismatchReminderAt = at
	}
	return out
}
