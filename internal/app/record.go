package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/japamala/internal/mantra"
	"github.com/MrWong99/japamala/internal/observe"
	"github.com/MrWong99/japamala/internal/prefs"
	"github.com/MrWong99/japamala/pkg/audio"
)

// recordingSampleRate is the rate of the frames handed to recognisers.
const recordingSampleRate = 16000

// wavTap copies the audio heard while recording into a WAV file. It is
// installed as the capture tap of the recording recogniser and is a no-op
// while no file is open.
type wavTap struct {
	mu sync.Mutex
	w  *audio.WAVWriter
}

func (t *wavTap) begin(w *audio.WAVWriter) {
	t.mu.Lock()
	t.w = w
	t.mu.Unlock()
}

func (t *wavTap) write(f audio.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return
	}
	if err := t.w.WriteFrame(f); err != nil {
		slog.Warn("recorded audio write failed, stopping copy", "err", err)
		_ = t.w.Close()
		t.w = nil
	}
}

// end closes the open file, if any.
func (t *wavTap) end() error {
	t.mu.Lock()
	w := t.w
	t.w = nil
	t.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

// StartRecording begins capturing a new mantra. Any capture in progress is
// discarded. When recording.audio_dir is set the heard audio is also kept
// as a WAV file.
func (a *App) StartRecording(ctx context.Context) error {
	a.CancelRecording()

	ctx = observe.WithSession(ctx, newSessionID("record"))
	a.mu.Lock()
	dir := a.cfg.Recording.AudioDir
	a.mu.Unlock()

	if dir != "" {
		path, err := a.openAudioFile(dir)
		if err != nil {
			observe.Logger(ctx).Warn("recording without keeping audio", "err", err)
		} else {
			a.mu.Lock()
			a.audioPath = path
			a.mu.Unlock()
		}
	}

	if err := a.recorder.Start(ctx); err != nil {
		a.discardAudio()
		return err
	}
	observe.Logger(ctx).Info("recording mantra")
	return nil
}

// openAudioFile creates a timestamped WAV file in dir and points the tap
// at it.
func (a *App) openAudioFile(dir string) (string, error) {
	if err := a.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	path := filepath.Join(dir, "mantra-"+time.Now().Format("20060102-150405")+".wav")
	f, err := a.fs.Create(path)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	w, err := audio.NewWAVWriter(f, recordingSampleRate)
	if err != nil {
		_ = f.Close()
		_ = a.fs.Remove(path)
		return "", err
	}
	a.tap.begin(w)
	return path, nil
}

// CommitRecording stops the capture, saves the de-glued phrase as the
// mantra and makes it the index of the next listening session.
func (a *App) CommitRecording() (string, error) {
	phrase, err := a.recorder.Commit()
	tapErr := a.tap.end()

	a.mu.Lock()
	path := a.audioPath
	a.audioPath = ""
	a.mu.Unlock()

	if err != nil {
		a.removeAudio(path)
		return "", err
	}
	if tapErr != nil {
		slog.Warn("recorded audio incomplete", "path", path, "err", tapErr)
		a.removeAudio(path)
		path = ""
	}

	var previous string
	saved, err := a.prefs.Update(func(p *prefs.Prefs) {
		previous = p.AudioFile
		p.Mantra = phrase
		p.Language = a.listener.Config().Language
		p.RecordedAt = time.Now()
		p.AudioFile = path
	})
	if err != nil {
		return "", fmt.Errorf("app: save mantra: %w", err)
	}
	if previous != "" && previous != path {
		a.removeAudio(previous)
	}

	a.mu.Lock()
	a.saved = saved
	a.phrase = phrase
	a.mu.Unlock()
	a.listener.SetIndex(mantra.Build(phrase))
	slog.Info("mantra saved", "phrase", phrase, "audio_file", path)
	return phrase, nil
}

// CancelRecording stops the capture and discards it.
func (a *App) CancelRecording() {
	a.recorder.Cancel()
	a.discardAudio()
}

func (a *App) discardAudio() {
	_ = a.tap.end()
	a.mu.Lock()
	path := a.audioPath
	a.audioPath = ""
	a.mu.Unlock()
	a.removeAudio(path)
}

func (a *App) removeAudio(path string) {
	if path == "" {
		return
	}
	if err := a.fs.Remove(path); err != nil {
		slog.Warn("could not remove recorded audio", "path", path, "err", err)
	}
}
