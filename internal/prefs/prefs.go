// Package prefs persists the user's saved mantra and listening preferences
// as a small YAML file.
package prefs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Prefs is the saved state. Zero fields mean "not set"; callers fall back to
// their configured defaults.
type Prefs struct {
	// Mantra is the committed phrase.
	Mantra string `yaml:"mantra,omitempty"`

	// Language is the recognition locale the mantra was recorded in.
	Language string `yaml:"language,omitempty"`

	// SilenceThresholdSeconds is the user's silence threshold.
	SilenceThresholdSeconds int `yaml:"silence_threshold_seconds,omitempty"`

	// RecordedAt is when the mantra was committed.
	RecordedAt time.Time `yaml:"recorded_at,omitempty"`

	// AudioFile is the path of the WAV captured while recording, if kept.
	AudioFile string `yaml:"audio_file,omitempty"`
}

// Store reads and writes Prefs at a fixed path.
type Store struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewStore returns a Store for path on fsys. Use afero.NewOsFs for the real
// file system.
func NewStore(fsys afero.Fs, path string) *Store {
	return &Store{fs: fsys, path: path}
}

// Path returns the file the store uses.
func (s *Store) Path() string { return s.path }

// Load returns the saved preferences. A missing file yields empty Prefs.
func (s *Store) Load() (Prefs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (Prefs, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Prefs{}, nil
	}
	if err != nil {
		return Prefs{}, fmt.Errorf("prefs: read %s: %w", s.path, err)
	}
	var p Prefs
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Prefs{}, fmt.Errorf("prefs: parse %s: %w", s.path, err)
	}
	return p, nil
}

// Save replaces the saved preferences. The file is written to a temporary
// name and renamed so a crash never leaves a truncated file.
func (s *Store) Save(p Prefs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(p)
}

func (s *Store) save(p Prefs) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("prefs: encode: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("prefs: create %s: %w", dir, err)
		}
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("prefs: write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("prefs: replace %s: %w", s.path, err)
	}
	return nil
}

// Update loads, applies fn and saves in one step.
func (s *Store) Update(fn func(*Prefs)) (Prefs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.load()
	if err != nil {
		return Prefs{}, err
	}
	fn(&p)
	if err := s.save(p); err != nil {
		return Prefs{}, err
	}
	return p, nil
}

// DefaultPath returns the preferences file under the user's config
// directory, falling back to the working directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "japamala.prefs.yaml"
	}
	return filepath.Join(dir, "japamala", "prefs.yaml")
}
