package audio

import (
	"fmt"
	"log/slog"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// Downmixer turns captured frames into the mono stream a recogniser expects.
// Multi-channel input is averaged to mono before resampling so only one
// channel is filtered. A Downmixer keeps filter state between frames; create
// one per stream and do not share it between goroutines.
type Downmixer struct {
	// SampleRate is the output rate in Hz.
	SampleRate int

	srcRate   int
	resampler resampling.Resampler
	warned    bool
}

// Convert returns frame as mono PCM at d.SampleRate. Frames with an odd byte
// count are corrupt and come back with nil Data.
func (d *Downmixer) Convert(frame Frame) (Frame, error) {
	out := Frame{SampleRate: d.SampleRate, Channels: 1, Timestamp: frame.Timestamp}
	if len(frame.Data)%2 != 0 {
		if !d.warned {
			d.warned = true
			slog.Warn("audio: odd byte count in PCM frame, dropping", "bytes", len(frame.Data))
		}
		return out, nil
	}

	pcm := frame.Data
	if frame.Channels > 1 {
		pcm = Downmix(pcm, frame.Channels)
	}
	if frame.SampleRate == d.SampleRate || frame.SampleRate <= 0 {
		out.Data = pcm
		return out, nil
	}

	if d.resampler == nil || d.srcRate != frame.SampleRate {
		r, err := resampling.New(&resampling.Config{
			InputRate:  float64(frame.SampleRate),
			OutputRate: float64(d.SampleRate),
			Channels:   1,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return out, fmt.Errorf("audio: create resampler %d->%d: %w", frame.SampleRate, d.SampleRate, err)
		}
		slog.Debug("audio: resampling capture",
			"from", Format{frame.SampleRate, frame.Channels},
			"to", Format{d.SampleRate, 1},
		)
		d.resampler, d.srcRate = r, frame.SampleRate
	}

	resampled, err := d.resampler.Process(toFloat(pcm))
	if err != nil {
		return out, fmt.Errorf("audio: resample: %w", err)
	}
	out.Data = fromFloat(resampled)
	return out, nil
}

// Downmix averages interleaved channels into mono.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for c := range channels {
			sum += int32(sample(pcm, i*channels+c))
		}
		putSample(out, i, int16(sum/int32(channels)))
	}
	return out
}

func toFloat(pcm []byte) []float64 {
	out := make([]float64, len(pcm)/2)
	for i := range out {
		out[i] = float64(sample(pcm, i)) / 32768
	}
	return out
}

func fromFloat(in []float64) []byte {
	out := make([]byte, len(in)*2)
	for i, f := range in {
		putSample(out, i, int16(min(max(f, -1), 32767.0/32768)*32768))
	}
	return out
}

func sample(pcm []byte, i int) int16 {
	return int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
}

func putSample(pcm []byte, i int, s int16) {
	pcm[i*2] = byte(s)
	pcm[i*2+1] = byte(uint16(s) >> 8)
}

// Int16ToBytes encodes samples as little-endian PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		putSample(out, i, s)
	}
	return out
}

// BytesToInt16 decodes little-endian PCM into samples.
func BytesToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = sample(pcm, i)
	}
	return out
}
