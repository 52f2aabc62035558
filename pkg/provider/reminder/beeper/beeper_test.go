package beeper

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/japamala/pkg/provider/reminder"
)

type recorder struct {
	mu       sync.Mutex
	freqs    []float64
	durs     []int
	notified []string
	done     chan struct{}
}

func (r *recorder) beep(freq float64, ms int) error {
	r.mu.Lock()
	r.freqs = append(r.freqs, freq)
	r.durs = append(r.durs, ms)
	r.mu.Unlock()
	r.done <- struct{}{}
	return errors.New("no speaker")
}

func (r *recorder) notify(title, _, _ string) error {
	r.mu.Lock()
	r.notified = append(r.notified, title)
	r.mu.Unlock()
	return nil
}

func TestEmitter_Defaults(t *testing.T) {
	t.Parallel()
	e := New()
	if e.frequency != reminder.CueFrequency {
		t.Errorf("frequency = %f, want %f", e.frequency, reminder.CueFrequency)
	}
	if e.duration != reminder.CueDuration {
		t.Errorf("duration = %v, want %v", e.duration, reminder.CueDuration)
	}
}

func TestEmitter_Emit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		opts       []Option
		wantFreq   float64
		wantMs     int
		wantNotify bool
	}{
		{name: "defaults", wantFreq: 528, wantMs: 1500},
		{
			name:       "custom with notification",
			opts:       []Option{WithFrequency(440), WithDuration(200 * time.Millisecond), WithNotification("japamala")},
			wantFreq:   440,
			wantMs:     200,
			wantNotify: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := &recorder{done: make(chan struct{}, 1)}
			e := New(tt.opts...)
			e.beep = rec.beep
			e.notify = rec.notify

			e.Emit()
			select {
			case <-rec.done:
			case <-time.After(2 * time.Second):
				t.Fatal("beep never played")
			}

			rec.mu.Lock()
			defer rec.mu.Unlock()
			if rec.freqs[0] != tt.wantFreq || rec.durs[0] != tt.wantMs {
				t.Errorf("beep(%f, %d), want beep(%f, %d)", rec.freqs[0], rec.durs[0], tt.wantFreq, tt.wantMs)
			}
			if got := len(rec.notified) == 1; got != tt.wantNotify {
				t.Errorf("notified = %v, want %v", rec.notified, tt.wantNotify)
			}
		})
	}
}
