package live

// Event is the interface for all session events. Concrete event types are
// produced by a session's receive loop and consumed, in order, by a single
// per-session handling loop.
type Event interface {
	// EventType returns the event type string for logging and dispatch.
	EventType() string
}

// ConnectedEvent is emitted once the endpoint has acknowledged the session
// setup and is ready to receive audio.
type ConnectedEvent struct{}

func (ConnectedEvent) EventType() string { return "connected" }

// AudioChunkEvent carries one chunk of synthesised speech, decoded from the
// transport encoding into raw PCM bytes.
type AudioChunkEvent struct {
	// Data is raw little-endian PCM.
	Data []byte

	// MIMEType labels the chunk's format, e.g. "audio/pcm;rate=24000".
	MIMEType string
}

func (AudioChunkEvent) EventType() string { return "audio.chunk" }

// TurnCompleteEvent marks the end of one uninterrupted span of synthesised
// speech. The endpoint is listening again.
type TurnCompleteEvent struct{}

func (TurnCompleteEvent) EventType() string { return "turn.complete" }

// UsageEvent reports cumulative token consumption for the session.
type UsageEvent struct {
	TotalTokens int
}

func (UsageEvent) EventType() string { return "usage" }

// ErrorEvent carries an asynchronous error reported by the endpoint.
// Session-fatal: the consumer is expected to close the session.
type ErrorEvent struct {
	Cause error
}

func (ErrorEvent) EventType() string { return "error" }

// ClosedEvent is the final event on a session's stream. Reason describes why
// the stream ended (normal closure, transport failure, remote shutdown).
type ClosedEvent struct {
	Reason string
}

func (ClosedEvent) EventType() string { return "closed" }
