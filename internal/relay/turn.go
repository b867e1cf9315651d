package relay

import "sync/atomic"

// ConnectionStatus describes the lifecycle of a session's upstream link.
type ConnectionStatus int

const (
	// StatusDisconnected is the initial state before Start is called.
	StatusDisconnected ConnectionStatus = iota
	// StatusConnecting means the upstream dial succeeded but the endpoint has
	// not yet acknowledged the session.
	StatusConnecting
	// StatusConnected means the endpoint acknowledged the session and audio
	// may flow in both directions.
	StatusConnected
	// StatusClosing means Stop was called and teardown is in progress.
	StatusClosing
	// StatusClosed is the terminal state; the session cannot be restarted.
	StatusClosed
)

// String implements fmt.Stringer.
func (c ConnectionStatus) String() string {
	switch c {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TurnStatus describes who currently holds the speaking turn.
type TurnStatus int

const (
	// TurnIdle means the user holds the turn: capture frames flow upstream.
	TurnIdle TurnStatus = iota
	// TurnAIResponding means the model holds the turn: capture frames are
	// dropped so the model does not hear itself through an open mic.
	TurnAIResponding
)

// String implements fmt.Stringer.
func (t TurnStatus) String() string {
	switch t {
	case TurnIdle:
		return "idle"
	case TurnAIResponding:
		return "ai_responding"
	default:
		return "unknown"
	}
}

// TurnGate is the half-duplex turn state machine. It flips to AIResponding on
// the first synthesized audio chunk of a turn and back to Idle when the turn
// completes, and answers for each capture frame whether the microphone path
// is open.
//
// Every transition method returns whether the call actually changed state, so
// the caller can run per-transition side effects (speaking notifications,
// mute logging) exactly once however many times an event repeats. All methods
// are safe for concurrent use; the state is a single atomic word read on the
// capture hot path.
type TurnGate struct {
	status atomic.Int32
}

// NewTurnGate creates a gate in the Idle state with capture open.
func NewTurnGate() *TurnGate {
	return &TurnGate{}
}

// Status returns the current turn status.
func (g *TurnGate) Status() TurnStatus {
	return TurnStatus(g.status.Load())
}

// CaptureOpen reports whether capture frames may pass upstream. It is false
// for the whole duration of an AI turn.
func (g *TurnGate) CaptureOpen() bool {
	return g.Status() == TurnIdle
}

// OnAudioChunk marks the start of an AI turn. It reports true only for the
// chunk that actually opened the turn; repeated chunks within the same turn
// return false.
func (g *TurnGate) OnAudioChunk() bool {
	return g.status.CompareAndSwap(int32(TurnIdle), int32(TurnAIResponding))
}

// OnTurnComplete marks the end of an AI turn and reopens capture. It reports
// true only when an AI turn was actually open; a completion without audio
// (text-only or cancelled turns) returns false.
func (g *TurnGate) OnTurnComplete() bool {
	return g.status.CompareAndSwap(int32(TurnAIResponding), int32(TurnIdle))
}

// Reset forces the gate back to Idle regardless of current state. Used on
// errors and disconnects so a dead session can never leave capture muted.
// Reports true when an AI turn was open at the time.
func (g *TurnGate) Reset() bool {
	return TurnStatus(g.status.Swap(int32(TurnIdle))) == TurnAIResponding
}
