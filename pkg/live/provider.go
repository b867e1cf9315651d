// Package live defines the Provider interface for streaming
// speech-to-speech endpoints.
//
// A live provider wraps a real-time voice AI service that accepts raw audio
// input and returns synthesised audio output in a single, stateful session.
// Examples include the Gemini Live API and the OpenAI Realtime API.
//
// The central abstraction is Session: one bidirectional streaming connection
// that accepts audio frames and produces a finite, ordered stream of typed
// [Event] values. Sessions are designed to be long-lived (seconds to
// minutes); they are not resumable, and a dropped session is replaced by
// connecting a new one.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"

	"github.com/voximux/voximux/pkg/audio"
)

// ErrSessionClosed is returned by [Session.Send] and [Session.EndInput] when
// the session has been closed.
var ErrSessionClosed = errors.New("live: session closed")

// ErrSendQueueFull is returned by [Session.Send] when the transport cannot
// keep up and the session's bounded send queue is full. The frame is not
// queued; callers drop it and continue.
var ErrSendQueueFull = errors.New("live: send queue full")

// SessionConfig is the initial configuration for a new live session.
// The audio formats are declared once here; every frame sent or received
// during the session conforms to them.
type SessionConfig struct {
	// Instructions is the system-level prompt that defines the assistant's
	// role and context for the whole session. Immutable once the session
	// is established.
	Instructions string

	// Voice selects the prebuilt voice used for synthesised speech output.
	// Empty selects the provider default.
	Voice string

	// InputFormat is the PCM format of audio sent to the endpoint.
	// The zero value selects [audio.CaptureFormat].
	InputFormat audio.Format

	// OutputFormat is the PCM format of synthesised audio expected from the
	// endpoint. The zero value selects [audio.PlaybackFormat].
	OutputFormat audio.Format
}

// Session represents an open bidirectional streaming session. It is an
// interface so that test code can supply mock implementations without a
// live provider connection.
//
// The session is the hot path of the relay, so every method must return
// quickly. Sends are decoupled from the network by a bounded queue: when the
// transport is congested and the queue fills, [Session.Send] fails fast with
// [ErrSendQueueFull] instead of blocking. All methods must be safe for
// concurrent use.
//
// Callers must call Close when the session is no longer needed.
type Session interface {
	// Send queues one audio frame for transmission to the endpoint, encoded
	// per the endpoint's transport requirement. Queued frames are transmitted
	// in order. Returns [ErrSessionClosed] after Close, or [ErrSendQueueFull]
	// when the bounded send queue is full.
	Send(frame audio.AudioFrame) error

	// EndInput tells the endpoint that no more audio will be sent this turn.
	// Used during graceful shutdown. The signal is queued behind any
	// previously queued frames and fails fast like Send when the queue is
	// full.
	EndInput() error

	// Events returns the session's event stream: a finite, ordered sequence
	// of typed events produced as the endpoint responds. The channel is
	// closed when the session ends; a [ClosedEvent] is the final event on a
	// stream that terminated, whether locally or remotely. Events are
	// delivered in the order the endpoint produced them. Consumers must
	// drain this channel promptly to avoid stalling the receive loop.
	Events() <-chan Event

	// Close terminates the session and releases the connection. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming speech-to-speech backend.
//
// Implementations must be safe for concurrent use. The relay may open
// multiple concurrent sessions, one per connected client.
type Provider interface {
	// Connect establishes a new live session with the given configuration.
	// The returned Session is ready to accept audio immediately; a
	// [ConnectedEvent] arrives on the event stream once the endpoint
	// acknowledges the setup.
	//
	// Returns an error if the session cannot be established (authentication
	// failure, unreachable endpoint, or ctx already cancelled). The caller
	// owns the Session and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}
