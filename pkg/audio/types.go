package audio

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AudioFrame represents a single frame of audio data flowing through the relay.
// Frames are the atomic unit of audio transport: captured from an input device
// or a remote client, gated by the turn machine, and forwarded upstream or to
// a playback device.
type AudioFrame struct {
	// PCM audio data, little-endian signed samples.
	Data []byte

	// SampleRate in Hz (16000 for upstream input, 24000 for synthesised output).
	SampleRate int

	// Channels: 1 for mono. The relay is mono end-to-end.
	Channels int

	// BitDepth in bits per sample (16 for s16le PCM).
	BitDepth int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format returns the frame's format descriptor.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels, BitDepth: f.BitDepth}
}

// Duration returns the playback duration of the frame's data, or zero when the
// format fields are incomplete.
func (f AudioFrame) Duration() time.Duration {
	bytesPerSecond := f.SampleRate * f.Channels * f.BitDepth / 8
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(len(f.Data)) * time.Second / time.Duration(bytesPerSecond)
}

// Format describes the sample rate, channel count, and bit depth of an audio
// stream. A session declares its input and output formats once at start; every
// frame in the session conforms.
type Format struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`
}

// CaptureFormat is the fixed format for audio sent upstream:
// 16 kHz, mono, 16-bit little-endian PCM.
var CaptureFormat = Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

// PlaybackFormat is the fixed format for synthesised audio received from the
// upstream endpoint: 24 kHz, mono, 16-bit little-endian PCM.
var PlaybackFormat = Format{SampleRate: 24000, Channels: 1, BitDepth: 16}

// MIME returns the transport MIME tag for this format, e.g. "audio/pcm;rate=16000".
func (f Format) MIME() string {
	return PCMMIME(f.SampleRate)
}

// Frame wraps raw PCM data in an [AudioFrame] conforming to this format.
func (f Format) Frame(data []byte, ts time.Duration) AudioFrame {
	return AudioFrame{
		Data:       data,
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		BitDepth:   f.BitDepth,
		Timestamp:  ts,
	}
}

// String returns a human-readable description, e.g. "16000Hz mono 16-bit".
func (f Format) String() string {
	return fmt.Sprintf("%s %d-bit", describe(f.SampleRate, f.Channels), f.BitDepth)
}

// PCMMIME returns the MIME tag used to label raw PCM audio on the wire:
// "audio/pcm;rate=<rate>".
func PCMMIME(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// PCMRate extracts the sample rate from a PCM MIME tag produced by [PCMMIME].
// Parameters other than rate are ignored. Returns an error if the tag is not
// an audio/pcm type or carries no parseable rate.
func PCMRate(mime string) (int, error) {
	base, params, _ := strings.Cut(mime, ";")
	if strings.TrimSpace(base) != "audio/pcm" {
		return 0, fmt.Errorf("audio: not a PCM MIME type: %q", mime)
	}
	for _, param := range strings.Split(params, ";") {
		key, val, ok := strings.Cut(param, "=")
		if !ok || strings.TrimSpace(key) != "rate" {
			continue
		}
		rate, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil || rate <= 0 {
			return 0, fmt.Errorf("audio: invalid rate in MIME type %q", mime)
		}
		return rate, nil
	}
	return 0, fmt.Errorf("audio: no rate parameter in MIME type %q", mime)
}
