// Package relay contains the core of voximux: the half-duplex turn gate and
// the Session that pumps capture audio upstream, translates upstream events
// into sink notifications, and enforces the session lifecycle.
//
// A [Session] joins three parts it does not own the implementations of: an
// [audio.CaptureDevice] producing microphone frames, a [live.Provider]
// reaching the speech endpoint, and a [Sink] receiving everything the session
// produces. One goroutine pumps capture frames through the [TurnGate]; a
// second, the event loop, is the sole consumer of upstream events and the
// only caller of the sink. The session runs until stopped or until a fatal
// upstream or device error tears it down; it never reconnects on its own.
//
// This package is internal because it encapsulates application-private
// session logic and is not intended for import by external code.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voximux/voximux/internal/observe"
	"github.com/voximux/voximux/pkg/audio"
	"github.com/voximux/voximux/pkg/live"
)

// stopTimeout bounds how long Stop waits for the session's goroutines to
// finish before giving up.
const stopTimeout = 5 * time.Second

// ConnectionError reports a failure to establish the upstream session.
type ConnectionError struct {
	Err error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string { return fmt.Sprintf("relay: connect: %v", e.Err) }

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error { return e.Err }

// UpstreamError reports a fatal error event received from the connected
// endpoint. Upstream errors are terminal: the session closes and does not
// reconnect.
type UpstreamError struct {
	Err error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string { return fmt.Sprintf("relay: upstream: %v", e.Err) }

// Unwrap returns the underlying cause.
func (e *UpstreamError) Unwrap() error { return e.Err }

// Config holds the immutable parameters of a session. The rendered system
// instruction is handed to the endpoint once at connect time and cannot
// change afterwards.
type Config struct {
	// AgentType selects the assistant persona named in the system instruction.
	AgentType string `yaml:"agent_type"`

	// Voice is the provider voice used for synthesis. Empty selects the
	// provider default.
	Voice string `yaml:"voice"`

	// Docs are the ordered context documents embedded verbatim in the system
	// instruction.
	Docs []ContextDoc `yaml:"docs"`
}

// SessionState is a point-in-time snapshot of a session's two status axes.
type SessionState struct {
	Connection ConnectionStatus
	Turn       TurnStatus
}

// Option is a functional option for configuring a [Session].
type Option func(*Session)

// WithLogger sets the logger used by the session. The default is
// slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// Session relays one live voice conversation between a capture device and an
// upstream speech endpoint, delivering the endpoint's output to a sink.
//
// Lifecycle: New → Start → (conversation) → Stop. Start may be called once;
// Stop any number of times. A session whose upstream fails ends up in the
// same Closed state as one stopped deliberately, with [Session.Err]
// reporting the cause.
type Session struct {
	provider live.Provider
	capture  audio.CaptureDevice
	sink     Sink
	cfg      Config
	log      *slog.Logger
	metrics  *observe.Metrics
	gate     *TurnGate

	mu          sync.Mutex
	conn        ConnectionStatus
	upstream    live.Session
	started     bool
	termErr     error
	closeReason string

	// turnStart and turnElapsed are owned by the event loop goroutine.
	turnStart   time.Time
	turnElapsed time.Duration

	stopOnce sync.Once
	doneOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a session over the given provider, capture device and sink.
// The session does not touch any of them until Start.
func New(provider live.Provider, capture audio.CaptureDevice, sink Sink, cfg Config, opts ...Option) *Session {
	s := &Session{
		provider: provider,
		capture:  capture,
		sink:     sink,
		cfg:      cfg,
		log:      slog.Default(),
		metrics:  observe.DefaultMetrics(),
		gate:     NewTurnGate(),
		conn:     StatusDisconnected,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start connects the upstream session with the rendered system instruction,
// starts the capture device, and launches the relay goroutines. The ctx
// governs connection establishment only; the running session is bounded by
// Stop, not by ctx.
//
// A failed Start leaves the session Closed; it cannot be retried on the same
// Session value.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("relay: session already started")
	}
	if s.conn == StatusClosed {
		s.mu.Unlock()
		return fmt.Errorf("relay: session closed")
	}
	s.started = true
	s.conn = StatusConnecting
	s.mu.Unlock()

	dialStart := time.Now()
	up, err := s.provider.Connect(ctx, live.SessionConfig{
		Instructions: BuildInstruction(s.cfg.AgentType, s.cfg.Docs),
		Voice:        s.cfg.Voice,
		InputFormat:  audio.CaptureFormat,
		OutputFormat: audio.PlaybackFormat,
	})
	if err != nil {
		s.abortStart(&ConnectionError{Err: err})
		return &ConnectionError{Err: err}
	}
	s.metrics.RecordConnect(time.Since(dialStart).Seconds())

	if err := s.capture.Start(ctx); err != nil {
		_ = up.Close()
		s.abortStart(err)
		return err
	}

	s.mu.Lock()
	s.upstream = up
	s.mu.Unlock()

	s.metrics.RecordSessionStart()
	s.log.Info("session starting",
		"agent", s.cfg.AgentType, "voice", s.cfg.Voice, "docs", len(s.cfg.Docs))

	s.wg.Add(1)
	go s.pumpCapture(up)
	go s.eventLoop(up)
	return nil
}

// abortStart records a Start failure and settles the session in its terminal
// state without the event loop ever having run.
func (s *Session) abortStart(err error) {
	s.mu.Lock()
	s.conn = StatusClosed
	if s.termErr == nil {
		s.termErr = err
	}
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

// Stop tears the session down: capture stops, the upstream is told input has
// ended and is closed, and the event loop settles the terminal state. Safe
// to call any number of times and from any goroutine, including before
// Start. Returns once the session is fully stopped, bounded by a timeout.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if !s.started {
			s.conn = StatusClosed
			s.mu.Unlock()
			s.doneOnce.Do(func() { close(s.done) })
			return
		}
		if s.conn != StatusClosed {
			s.conn = StatusClosing
		}
		up := s.upstream
		s.mu.Unlock()

		s.log.Info("session stopping")
		_ = s.capture.Stop()
		if up != nil {
			// Best effort: let the endpoint finalize buffered input, then
			// close. The event loop observes the close and finishes teardown.
			if err := up.EndInput(); err != nil && !errors.Is(err, live.ErrSessionClosed) {
				s.log.Debug("end input during stop", "err", err)
			}
			_ = up.Close()
		}
	})

	select {
	case <-s.done:
		return nil
	case <-time.After(stopTimeout):
		return fmt.Errorf("relay: stop timed out after %s", stopTimeout)
	}
}

// Done returns a channel that is closed once the session has fully stopped,
// whatever the cause. Check [Session.Err] afterwards for the terminal error.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that terminated the session, or nil after a clean
// stop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termErr
}

// State returns a snapshot of the session's connection and turn status.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionState{Connection: s.conn, Turn: s.gate.Status()}
}

// fail records err as the session's terminal error and triggers teardown.
// The first error wins; later failures during the resulting teardown are
// dropped.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.termErr == nil {
		s.termErr = err
	}
	s.mu.Unlock()
	// Stop blocks until the event loop exits, so never call it from the
	// loops themselves.
	go func() { _ = s.Stop() }()
}

// pumpCapture forwards capture frames upstream while the turn gate is open.
// Frames captured during an AI turn are dropped, never buffered: stale mic
// audio must not arrive at the endpoint after the turn ends.
func (s *Session) pumpCapture(up live.Session) {
	defer s.wg.Done()

	for frame := range s.capture.Frames() {
		if !s.gate.CaptureOpen() {
			s.metrics.RecordFrameDropped("ai_responding")
			continue
		}
		if err := up.Send(frame); err != nil {
			if errors.Is(err, live.ErrSessionClosed) {
				break
			}
			// Send failures drop the frame and keep the session alive; loss
			// of one 20 ms frame is preferable to killing the conversation.
			if errors.Is(err, live.ErrSendQueueFull) {
				s.metrics.RecordFrameDropped("send_queue_full")
				s.log.Warn("send queue full, frame dropped", "bytes", len(frame.Data))
			} else {
				s.metrics.RecordFrameDropped("send_error")
				s.log.Warn("frame send failed", "err", err)
			}
			continue
		}
		s.metrics.RecordFrameForwarded()
	}

	if err := s.capture.Err(); err != nil {
		s.log.Error("capture device failed", "err", err)
		s.fail(err)
	}
}

// eventLoop is the sole consumer of upstream events and the only goroutine
// that mutates the turn gate or calls the sink. When the event stream ends,
// whether by local Stop or remote close, it settles the terminal state
// exactly once.
func (s *Session) eventLoop(up live.Session) {
	for ev := range up.Events() {
		switch ev := ev.(type) {
		case live.ConnectedEvent:
			s.mu.Lock()
			if s.conn == StatusConnecting {
				s.conn = StatusConnected
			}
			s.mu.Unlock()
			s.log.Info("upstream connected")
			s.sink.Connected()

		case live.AudioChunkEvent:
			if s.gate.OnAudioChunk() {
				s.turnStart = time.Now()
				s.turnElapsed = 0
				s.log.Debug("ai turn started")
				s.sink.SpeakingStarted()
			}
			frame := s.chunkFrame(ev)
			s.turnElapsed += frame.Duration()
			s.metrics.RecordChunkRelayed()
			s.sink.Audio(frame)

		case live.TurnCompleteEvent:
			if s.gate.OnTurnComplete() {
				s.metrics.RecordTurn(time.Since(s.turnStart).Seconds())
				s.log.Debug("ai turn complete", "audio", s.turnElapsed)
				s.sink.SpeakingEnded()
			}

		case live.UsageEvent:
			s.metrics.RecordTokens(ev.TotalTokens)
			s.sink.Usage(ev.TotalTokens)

		case live.ErrorEvent:
			s.metrics.RecordUpstreamError()
			s.log.Error("upstream error", "err", ev.Cause)
			s.fail(&UpstreamError{Err: ev.Cause})

		case live.ClosedEvent:
			s.mu.Lock()
			if s.closeReason == "" {
				s.closeReason = ev.Reason
			}
			s.mu.Unlock()
		}
	}

	s.finish(up)
}

// finish settles the terminal state after the event stream has ended. It
// runs exactly once, on the event loop goroutine, for every session that
// reached Start: resources are released, the turn gate is forced open so a
// dead session can never leave capture muted, and the sink hears the tail of
// the lifecycle in order: SpeakingEnded if a turn was cut short, Error for a
// failed session, and finally Disconnected.
func (s *Session) finish(up live.Session) {
	_ = s.capture.Stop()
	_ = up.Close()
	s.wg.Wait()

	if s.gate.Reset() {
		s.sink.SpeakingEnded()
	}

	s.mu.Lock()
	s.conn = StatusClosed
	err := s.termErr
	reason := s.closeReason
	s.mu.Unlock()

	if reason == "" {
		if err != nil {
			reason = err.Error()
		} else {
			reason = "session closed"
		}
	}

	if err != nil {
		s.sink.Error(err)
	}
	s.metrics.RecordSessionEnd()
	s.log.Info("session closed", "reason", reason, "err", err)
	s.sink.Disconnected(reason)

	s.doneOnce.Do(func() { close(s.done) })
}

// chunkFrame converts an upstream audio chunk into a playable frame, trusting
// the chunk's MIME type for the sample rate and falling back to the standard
// playback format when the type is absent or malformed.
func (s *Session) chunkFrame(ev live.AudioChunkEvent) audio.AudioFrame {
	format := audio.PlaybackFormat
	if rate, err := audio.PCMRate(ev.MIMEType); err == nil {
		format = audio.Format{SampleRate: rate, Channels: 1, BitDepth: 16}
	}
	return format.Frame(ev.Data, s.turnElapsed)
}
