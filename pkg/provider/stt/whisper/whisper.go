// Package whisper implements stt.Provider on top of a local whisper.cpp
// server (the whisper-server binary, which answers POST /inference).
//
// whisper.cpp transcribes whole clips, so each session cuts the incoming PCM
// into utterances with an energy gate: an utterance ends after a run of quiet
// audio or once it reaches a maximum length, is uploaded as a WAV file and
// its text is delivered as a final. No partials are produced. Chanting rarely
// pauses, so the default maximum utterance is short to keep finals flowing.
//
// The mantra keywords from stt.StreamConfig are sent as the decoder prompt,
// which biases whisper towards the expected Sanskrit spellings.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/MrWong99/japamala/pkg/audio"
	"github.com/MrWong99/japamala/pkg/provider/stt"
)

const (
	defaultLanguage        = "en"
	defaultSampleRate      = 16000
	defaultQuietGap        = 600 * time.Millisecond
	defaultMaxUtterance    = 4 * time.Second
	defaultEnergyThreshold = 300.0

	// maxUploadFailures consecutive failed uploads end the stream so the
	// caller can reconnect or fail over.
	maxUploadFailures = 3
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language used when a stream does not request one.
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithQuietGap sets how much quiet audio ends an utterance. Defaults to 600ms.
func WithQuietGap(d time.Duration) Option {
	return func(p *Provider) { p.quietGap = d }
}

// WithMaxUtterance sets the length at which an utterance is uploaded even
// without a pause. Defaults to 4s.
func WithMaxUtterance(d time.Duration) Option {
	return func(p *Provider) { p.maxUtterance = d }
}

// WithEnergyThreshold sets the RMS level (in 16-bit sample units) below which
// a chunk counts as quiet. Defaults to 300.
func WithEnergyThreshold(rms float64) Option {
	return func(p *Provider) { p.threshold = rms }
}

// WithHTTPClient replaces the HTTP client. The default has a 30s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// Provider is a whisper.cpp recogniser. Sessions are independent and may run
// concurrently.
type Provider struct {
	serverURL    string
	language     string
	quietGap     time.Duration
	maxUtterance time.Duration
	threshold    float64
	client       *http.Client
}

// New returns a Provider for the whisper-server at serverURL
// (e.g. "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: server URL must not be empty")
	}
	p := &Provider{
		serverURL:    strings.TrimRight(serverURL, "/"),
		language:     defaultLanguage,
		quietGap:     defaultQuietGap,
		maxUtterance: defaultMaxUtterance,
		threshold:    defaultEnergyThreshold,
		client:       &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream checks that the server answers and starts a session. Only mono
// audio is accepted; multi-channel chunks are downmixed.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	if err := p.probe(ctx); err != nil {
		return nil, err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	words := make([]string, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		words = append(words, kw.Keyword)
	}

	s := &session{
		p:          p,
		language:   baseLanguage(lang),
		prompt:     strings.Join(words, " "),
		sampleRate: rate,
		channels:   max(cfg.Channels, 1),
		audioCh:    make(chan []byte, 256),
		partials:   make(chan stt.Transcript),
		finals:     make(chan stt.Transcript, 16),
		done:       make(chan struct{}),
		ended:      make(chan struct{}),
	}
	go s.run(ctx)
	return s, nil
}

// probe fails when the server cannot be reached at all. Any HTTP response
// counts as reachable.
func (p *Provider) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+"/", nil)
	if err != nil {
		return fmt.Errorf("whisper: build probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("whisper: server unreachable: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// baseLanguage reduces a BCP-47 tag such as "hi-IN" to the two-letter code
// whisper.cpp expects. Unparseable tags pass through unchanged.
func baseLanguage(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	base, conf := t.Base()
	if conf == language.No {
		return tag
	}
	return base.String()
}

// session is one whisper stream. All segmentation state lives on the run
// goroutine.
type session struct {
	p          *Provider
	language   string
	prompt     string
	sampleRate int
	channels   int

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done  chan struct{}
	ended chan struct{}
	once  sync.Once

	mu  sync.Mutex
	err error
}

var errClosed = errors.New("whisper: session is closed")

// SendAudio queues a chunk of 16-bit little-endian PCM.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.ended:
		return errClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.ended:
		return errClosed
	}
}

// Partials is closed when the session ends and never carries a value.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the session without uploading buffered audio.
func (s *session) Close() error {
	s.once.Do(func() { close(s.done) })
	<-s.ended
	return nil
}

func (s *session) run(ctx context.Context) {
	defer close(s.ended)
	defer close(s.partials)
	defer close(s.finals)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	var (
		utterance []byte
		voiced    bool
		quiet     time.Duration
		spoken    time.Duration
		failures  int
	)
	reset := func() {
		utterance, voiced, quiet, spoken = nil, false, 0, 0
	}
	flush := func() bool {
		if !voiced {
			reset()
			return true
		}
		pcm := utterance
		reset()
		text, err := s.transcribe(ctx, pcm)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			failures++
			slog.Warn("whisper: transcription failed", "err", err, "consecutive_failures", failures)
			if failures >= maxUploadFailures {
				s.setErr(err)
				return false
			}
			return true
		}
		failures = 0
		if text == "" {
			return true
		}
		select {
		case s.finals <- stt.Transcript{Text: text, IsFinal: true}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// feed gates one analysis frame and reports whether the session goes on.
	feed := func(frame []byte) bool {
		d := audio.Frame{Data: frame, SampleRate: s.sampleRate, Channels: 1}.Duration()
		if rms(frame) < s.p.threshold {
			if !voiced {
				return true
			}
			quiet += d
		} else {
			voiced = true
			quiet = 0
		}
		utterance = append(utterance, frame...)
		spoken += d
		if (voiced && quiet >= s.p.quietGap) || spoken >= s.p.maxUtterance {
			return flush()
		}
		return true
	}

	frameBytes := gateFrameBytes(s.sampleRate)
	for {
		select {
		case <-ctx.Done():
			return
		case chunk := <-s.audioCh:
			if s.channels > 1 {
				chunk = audio.Downmix(chunk, s.channels)
			}
			for len(chunk) > 0 {
				n := min(frameBytes, len(chunk))
				if !feed(chunk[:n]) {
					return
				}
				chunk = chunk[n:]
			}
		}
	}
}

// gateFrame is the window the energy gate measures, so trailing silence
// inside a long chunk still counts towards the quiet gap.
const gateFrame = 20 * time.Millisecond

// gateFrameBytes is the size of one mono 16-bit gate frame at rate.
func gateFrameBytes(rate int) int {
	n := rate * int(gateFrame/time.Millisecond) / 1000 * 2
	return max(n, 2)
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// transcribe uploads pcm as a mono WAV file and returns the trimmed text.
func (s *session) transcribe(ctx context.Context, pcm []byte) (string, error) {
	var clip bytes.Buffer
	w, err := audio.NewWAVWriter(nopCloser{&clip}, s.sampleRate)
	if err != nil {
		return "", err
	}
	if err := w.WriteFrame(audio.Frame{Data: pcm, SampleRate: s.sampleRate, Channels: 1}); err != nil {
		return "", fmt.Errorf("whisper: encode clip: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("whisper: encode clip: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(clip.Bytes()); err != nil {
		return "", fmt.Errorf("whisper: write form file: %w", err)
	}
	fields := map[string]string{
		"response_format": "json",
		"temperature":     "0",
		"language":        s.language,
		"prompt":          s.prompt,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: inference request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// rms returns the root-mean-square level of 16-bit PCM.
func rms(pcm []byte) float64 {
	samples := audio.BytesToInt16(pcm)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
