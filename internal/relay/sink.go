package relay

import (
	"log/slog"

	"github.com/voximux/voximux/pkg/audio"
)

// Sink receives everything a session produces for its listener: synthesized
// audio, turn boundaries, usage reports, and lifecycle notices. The relay
// core calls these methods from its event loop, one at a time, in upstream
// order; implementations must not block for long or they stall the session.
//
// Two implementations ship with voximux: a local playback sink in
// internal/app that feeds the speaker, and per-client network sinks in
// internal/server and internal/natsbridge that forward to remote listeners.
type Sink interface {
	// Connected fires once the upstream endpoint has acknowledged the session.
	Connected()

	// SpeakingStarted fires when the first audio chunk of an AI turn arrives,
	// exactly once per turn.
	SpeakingStarted()

	// Audio delivers one chunk of synthesized speech. The frame's format is
	// decoded from the chunk's MIME type.
	Audio(frame audio.AudioFrame)

	// SpeakingEnded fires when an AI turn finishes, exactly once per turn,
	// including turns cut short by errors or disconnects.
	SpeakingEnded()

	// Usage reports the cumulative token count after a turn.
	Usage(totalTokens int)

	// Error reports a terminal session error. The session tears itself down
	// after delivering it; Disconnected always follows.
	Error(err error)

	// Disconnected fires exactly once when the session has fully stopped,
	// whatever the cause.
	Disconnected(reason string)
}

// LogSink is a Sink that logs lifecycle transitions and discards audio.
// It backs tests and acts as the fallback when a session has no listener.
type LogSink struct {
	// Log is the logger used for all output. Defaults to slog.Default.
	Log *slog.Logger
}

func (l *LogSink) logger() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return slog.Default()
}

// Connected implements Sink.
func (l *LogSink) Connected() { l.logger().Info("session connected") }

// SpeakingStarted implements Sink.
func (l *LogSink) SpeakingStarted() { l.logger().Debug("ai speaking started") }

// Audio implements Sink. The frame is discarded.
func (l *LogSink) Audio(frame audio.AudioFrame) {
	l.logger().Debug("audio chunk", "bytes", len(frame.Data), "rate", frame.SampleRate)
}

// SpeakingEnded implements Sink.
func (l *LogSink) SpeakingEnded() { l.logger().Debug("ai speaking ended") }

// Usage implements Sink.
func (l *LogSink) Usage(totalTokens int) {
	l.logger().Info("token usage", "total", totalTokens)
}

// Error implements Sink.
func (l *LogSink) Error(err error) { l.logger().Error("session error", "err", err) }

// Disconnected implements Sink.
func (l *LogSink) Disconnected(reason string) {
	l.logger().Info("session disconnected", "reason", reason)
}

var _ Sink = (*LogSink)(nil)
