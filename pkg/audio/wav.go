package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	wave "github.com/zenwerk/go-wave"
)

// frameDuration is the chunk length produced by file captures.
const frameDuration = 20 * time.Millisecond

// WAVCapture replays a 16-bit PCM WAV file as a [Capture]. With Realtime
// set, frames are paced at playback speed, which hosted recognisers expect.
type WAVCapture struct {
	src      io.ReadSeekCloser
	dec      *wav.Decoder
	format   Format
	Realtime bool
}

// NewWAVCapture validates src as a 16-bit PCM WAV stream.
func NewWAVCapture(src io.ReadSeekCloser) (*WAVCapture, error) {
	dec := wav.NewDecoder(src)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("audio: not a valid WAV file")
	}
	dec.ReadInfo()
	if dec.BitDepth != 16 {
		return nil, fmt.Errorf("audio: unsupported WAV bit depth %d, want 16", dec.BitDepth)
	}
	return &WAVCapture{
		src:      src,
		dec:      dec,
		format:   Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)},
		Realtime: true,
	}, nil
}

// Format returns the format of the file.
func (c *WAVCapture) Format() Format { return c.format }

// Start decodes the file on a goroutine.
func (c *WAVCapture) Start(ctx context.Context) (<-chan Frame, error) {
	samplesPerFrame := c.format.SampleRate * c.format.Channels * int(frameDuration/time.Millisecond) / 1000
	if samplesPerFrame <= 0 {
		return nil, fmt.Errorf("audio: invalid WAV format %s", c.format)
	}
	out := make(chan Frame, 16)
	go func() {
		defer close(out)
		buf := &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: c.format.Channels, SampleRate: c.format.SampleRate},
			Data:   make([]int, samplesPerFrame),
		}
		var ticker *time.Ticker
		if c.Realtime {
			ticker = time.NewTicker(frameDuration)
			defer ticker.Stop()
		}
		var offset time.Duration
		for {
			n, err := c.dec.PCMBuffer(buf)
			if n == 0 {
				if err != nil {
					slog.Warn("audio: WAV decode failed", "err", err)
				}
				return
			}
			samples := make([]int16, n)
			for i, v := range buf.Data[:n] {
				samples[i] = int16(v)
			}
			f := Frame{
				Data:       Int16ToBytes(samples),
				SampleRate: c.format.SampleRate,
				Channels:   c.format.Channels,
				Timestamp:  offset,
			}
			offset += f.Duration()
			if ticker != nil {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
			select {
			case <-ctx.Done():
				return
			case out <- f:
			}
		}
	}()
	return out, nil
}

// Close closes the underlying file.
func (c *WAVCapture) Close() error { return c.src.Close() }

var _ Capture = (*WAVCapture)(nil)

// WAVWriter stores mono 16-bit frames as a WAV file.
type WAVWriter struct {
	w *wave.Writer
}

// NewWAVWriter writes a WAV header for mono 16-bit audio at sampleRate to
// out. out is closed by [WAVWriter.Close].
func NewWAVWriter(out io.WriteCloser, sampleRate int) (*WAVWriter, error) {
	w, err := wave.NewWriter(wave.WriterParam{
		Out:           out,
		Channel:       1,
		SampleRate:    sampleRate,
		BitsPerSample: 16,
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create WAV writer: %w", err)
	}
	return &WAVWriter{w: w}, nil
}

// WriteFrame appends the samples of f, which must be mono.
func (w *WAVWriter) WriteFrame(f Frame) error {
	_, err := w.w.WriteSample16(BytesToInt16(f.Data))
	return err
}

// Close finalises the header and closes the output.
func (w *WAVWriter) Close() error { return w.w.Close() }
