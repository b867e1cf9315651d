// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and feed controlled sessions.
// Use Session to drive the event stream and inspect which methods were
// invoked by the relay.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(live.ConnectedEvent{})
package mock

import (
	"context"
	"sync"

	"github.com/voximux/voximux/pkg/audio"
	"github.com/voximux/voximux/pkg/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the Session returned by Connect. If nil, Connect returns a
	// new default Session.
	Session live.Session

	// SessionFactory, if non-nil, supplies the Session for each Connect call
	// and takes precedence over Session. Use it when every dial needs its own
	// scripted session.
	SessionFactory func(cfg live.SessionConfig) live.Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.SessionFactory != nil {
		return p.SessionFactory(cfg), nil
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// ConnectCount returns how many times Connect was called. Thread-safe.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// LastConfig returns the SessionConfig of the most recent Connect call.
// Thread-safe. Returns the zero value when Connect was never called.
func (p *Provider) LastConfig() live.SessionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ConnectCalls) == 0 {
		return live.SessionConfig{}
	}
	return p.ConnectCalls[len(p.ConnectCalls)-1].Cfg
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// SendCall records a single invocation of Session.Send.
type SendCall struct {
	// Frame is the audio frame passed to Send; Frame.Data is a copy.
	Frame audio.AudioFrame
}

// Session is a mock implementation of live.Session.
// Drive the event stream with Emit and CloseEvents; inspect Send traffic via
// SentFrames.
type Session struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events(). NewSession allocates it
	// with a generous buffer; tests may replace it before use.
	EventsCh chan live.Event

	// --- Configurable errors ---

	// SendErr, if non-nil, is returned by every Send call.
	SendErr error

	// EndInputErr, if non-nil, is returned by every EndInput call.
	EndInputErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// SendCalls records every call to Send in order.
	SendCalls []SendCall

	// EndInputCallCount is the number of times EndInput was called.
	EndInputCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	eventsClosed bool
}

// NewSession creates a Session with a buffered events channel.
func NewSession() *Session {
	return &Session{EventsCh: make(chan live.Event, 64)}
}

// Emit delivers an event on the events channel. Panics if the buffer is full;
// size the channel for the script being played.
func (s *Session) Emit(ev live.Event) {
	select {
	case s.EventsCh <- ev:
	default:
		panic("mock: events channel full")
	}
}

// CloseEvents closes the events channel, ending the stream. Idempotent.
func (s *Session) CloseEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsClosed {
		return
	}
	s.eventsClosed = true
	close(s.EventsCh)
}

// SetSendErr replaces SendErr. Thread-safe; use it to change Send behaviour
// while the component under test is running.
func (s *Session) SetSendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendErr = err
}

// Send records the call and returns SendErr.
func (s *Session) Send(frame audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := frame
	cp.Data = make([]byte, len(frame.Data))
	copy(cp.Data, frame.Data)
	s.SendCalls = append(s.SendCalls, SendCall{Frame: cp})
	return s.SendErr
}

// SentFrames returns a copy of the frames passed to Send so far. Thread-safe.
func (s *Session) SentFrames() []audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.AudioFrame, len(s.SendCalls))
	for i, c := range s.SendCalls {
		out[i] = c.Frame
	}
	return out
}

// SendCount returns the number of Send calls so far. Thread-safe.
func (s *Session) SendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendCalls)
}

// EndInput records the call and returns EndInputErr.
func (s *Session) EndInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EndInputCallCount++
	return s.EndInputErr
}

// Events returns EventsCh.
func (s *Session) Events() <-chan live.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EventsCh
}

// Close records the call, closes the event stream and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	closed := s.eventsClosed
	s.eventsClosed = true
	err := s.CloseErr
	s.mu.Unlock()

	if !closed {
		close(s.EventsCh)
	}
	return err
}

// CloseCount returns the number of Close calls so far. Thread-safe.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// ResetCalls clears all recorded calls. Thread-safe.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendCalls = nil
	s.EndInputCallCount = 0
	s.CloseCallCount = 0
}

// Ensure Session implements live.Session at compile time.
var _ live.Session = (*Session)(nil)
