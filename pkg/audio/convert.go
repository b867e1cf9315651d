package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// FormatConverter normalises frames to a target format. One converter serves
// one stream; it is not safe for concurrent use.
type FormatConverter struct {
	Target Format

	warnResample sync.Once
	warnOddBytes sync.Once
}

// Convert returns frame resampled to the target rate. Frames already at the
// target rate pass through untouched. A frame whose byte count is not a
// whole number of int16 samples comes back empty; callers drop it.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	if len(frame.Data)%2 != 0 {
		c.warnOddBytes.Do(func() {
			slog.Warn("audio: dropping misaligned PCM frame",
				"bytes", len(frame.Data), "rate", frame.SampleRate)
		})
		return c.Target.Frame(nil, frame.Timestamp)
	}

	if frame.SampleRate == c.Target.SampleRate {
		return frame
	}

	// Warn once per stream, not per frame.
	c.warnResample.Do(func() {
		slog.Warn("audio: stream rate differs from target, resampling",
			"from", describe(frame.SampleRate, frame.Channels),
			"to", describe(c.Target.SampleRate, c.Target.Channels))
	})

	return c.Target.Frame(Resample(frame.Data, frame.SampleRate, c.Target.SampleRate), frame.Timestamp)
}

// Resample converts 16-bit mono PCM between sample rates by linear
// interpolation. Input already at the destination rate is returned as is.
func Resample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	src := BytesToInt16(pcm)
	n := int(int64(len(src)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}

	dst := make([]int16, n)
	step := float64(srcRate) / float64(dstRate)
	for i := range dst {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)

		a := src[j]
		b := a
		if j+1 < len(src) {
			b = src[j+1]
		}
		dst[i] = int16(float64(a)*(1-frac) + float64(b)*frac)
	}
	return Int16ToBytes(dst)
}

// BytesToInt16 reinterprets little-endian PCM bytes as int16 samples.
// A trailing odd byte is ignored.
func BytesToInt16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}

// Int16ToBytes serialises int16 samples as little-endian PCM bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// describe renders a rate and channel count like "16000Hz mono".
func describe(rate, channels int) string {
	switch {
	case channels == 2:
		return fmt.Sprintf("%dHz stereo", rate)
	case channels > 2:
		return fmt.Sprintf("%dHz %dch", rate, channels)
	default:
		return fmt.Sprintf("%dHz mono", rate)
	}
}
