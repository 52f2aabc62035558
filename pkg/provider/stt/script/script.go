// Package script provides an stt.Provider that replays a transcript script
// instead of listening. It drives demos, soak tests and offline debugging of
// the matching rules without a microphone or a hosted recogniser.
//
// A script is a text file with one result per line:
//
//	# delay  kind     confidence  text
//	1s       interim  0.6         om namah
//	300ms    final    0.92        om namah shivaya
//	4s       final    -           radha
//
// The delay is waited before the result is emitted. Kind is "final" or
// "interim". A confidence of "-" means the recogniser reported none. Blank
// lines and lines starting with '#' are ignored.
package script

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/japamala/pkg/provider/stt"
)

// Line is one scripted result.
type Line struct {
	Delay      time.Duration
	Transcript stt.Transcript
}

// Parse reads a script.
func Parse(r io.Reader) ([]Line, error) {
	var (
		lines []Line
		errs  []error
		n     int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		n++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		l, err := parseLine(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", n, err))
			continue
		}
		lines = append(lines, l)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("script: read: %w", err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("script: %w", errors.Join(errs...))
	}
	if len(lines) == 0 {
		return nil, errors.New("script: no results")
	}
	return lines, nil
}

func parseLine(raw string) (Line, error) {
	f := strings.Fields(raw)
	if len(f) < 3 {
		return Line{}, fmt.Errorf("want \"<delay> <final|interim> <confidence|-> [text]\", got %q", raw)
	}
	var l Line
	d, err := time.ParseDuration(f[0])
	if err != nil || d < 0 {
		return Line{}, fmt.Errorf("invalid delay %q", f[0])
	}
	l.Delay = d

	switch f[1] {
	case "final":
		l.Transcript.IsFinal = true
	case "interim":
	default:
		return Line{}, fmt.Errorf("invalid kind %q", f[1])
	}

	if f[2] != "-" {
		c, err := strconv.ParseFloat(f[2], 64)
		if err != nil || c < 0 || c > 1 {
			return Line{}, fmt.Errorf("invalid confidence %q", f[2])
		}
		l.Transcript.Confidence = c
		l.Transcript.HasConfidence = true
	}
	l.Transcript.Text = strings.Join(f[3:], " ")
	return l, nil
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLoop restarts the script from the top instead of ending the stream.
func WithLoop() Option {
	return func(p *Provider) { p.loop = true }
}

// WithSpeed scales every delay by 1/factor. Factors <= 0 are ignored.
func WithSpeed(factor float64) Option {
	return func(p *Provider) {
		if factor > 0 {
			p.speed = factor
		}
	}
}

// Provider replays a script on every stream.
type Provider struct {
	lines []Line
	loop  bool
	speed float64
}

var _ stt.Provider = (*Provider)(nil)

// New returns a Provider for already parsed lines.
func New(lines []Line, opts ...Option) *Provider {
	p := &Provider{lines: lines, speed: 1}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Open parses the script at path on fs.
func Open(fs afero.Fs, path string, opts ...Option) (*Provider, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("script: open %s: %w", path, err)
	}
	defer f.Close()
	lines, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return New(lines, opts...), nil
}

// StartStream starts replaying from the first line. Without WithLoop the
// stream ends after the last line, as a hosted recogniser ends idle streams.
func (p *Provider) StartStream(ctx context.Context, _ stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &session{
		partials: make(chan stt.Transcript),
		finals:   make(chan stt.Transcript),
		done:     make(chan struct{}),
		ended:    make(chan struct{}),
	}
	go s.replay(ctx, p)
	return s, nil
}

type session struct {
	partials chan stt.Transcript
	finals   chan stt.Transcript
	done     chan struct{}
	ended    chan struct{}
	once     sync.Once
}

func (s *session) replay(ctx context.Context, p *Provider) {
	defer close(s.ended)
	defer close(s.partials)
	defer close(s.finals)

	for {
		for _, l := range p.lines {
			timer := time.NewTimer(time.Duration(float64(l.Delay) / p.speed))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-s.done:
				timer.Stop()
				return
			case <-timer.C:
			}

			out := s.partials
			if l.Transcript.IsFinal {
				out = s.finals
			}
			select {
			case out <- l.Transcript:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
		if !p.loop {
			return
		}
	}
}

// SendAudio discards audio; the script is the only source.
func (s *session) SendAudio([]byte) error { return nil }

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

func (s *session) Err() error { return nil }

func (s *session) Close() error {
	s.once.Do(func() { close(s.done) })
	<-s.ended
	return nil
}
