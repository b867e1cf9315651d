package app

import (
	"log/slog"

	"github.com/voximux/voximux/internal/relay"
	"github.com/voximux/voximux/pkg/audio"
)

// speakerSink plays session audio on the local output device. Playback
// errors are logged and dropped; the device reports persistent failures
// through its own Stop path.
type speakerSink struct {
	out  audio.PlaybackDevice
	conv audio.FormatConverter
	log  *slog.Logger
}

func newSpeakerSink(out audio.PlaybackDevice, log *slog.Logger) *speakerSink {
	return &speakerSink{
		out:  out,
		conv: audio.FormatConverter{Target: audio.PlaybackFormat},
		log:  log,
	}
}

// Connected implements relay.Sink.
func (s *speakerSink) Connected() {
	s.log.Info("voice session connected")
}

// SpeakingStarted implements relay.Sink. Resuming an unpaused device is a
// no-op, so every turn starts audible regardless of earlier pauses.
func (s *speakerSink) SpeakingStarted() {
	if err := s.out.Resume(); err != nil {
		s.log.Warn("playback resume", "err", err)
	}
}

// Audio implements relay.Sink. Chunks tagged with a sample rate other than
// the device's are resampled before playback.
func (s *speakerSink) Audio(frame audio.AudioFrame) {
	frame = s.conv.Convert(frame)
	if len(frame.Data) == 0 {
		return
	}
	if err := s.out.Play(frame); err != nil {
		s.log.Warn("playback write, dropping frame", "bytes", len(frame.Data), "err", err)
	}
}

// SpeakingEnded implements relay.Sink. The device keeps running between
// turns; pausing here would clip the tail of buffered audio.
func (s *speakerSink) SpeakingEnded() {}

// Usage implements relay.Sink.
func (s *speakerSink) Usage(totalTokens int) {
	s.log.Debug("token usage", "total", totalTokens)
}

// Error implements relay.Sink.
func (s *speakerSink) Error(err error) {
	s.log.Error("session error", "err", err)
}

// Disconnected implements relay.Sink.
func (s *speakerSink) Disconnected(reason string) {
	s.log.Info("voice session ended", "reason", reason)
}

var _ relay.Sink = (*speakerSink)(nil)
