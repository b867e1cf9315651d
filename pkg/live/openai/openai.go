// Package openai adapts OpenAI's Realtime API to the [live.Provider]
// interface.
//
// A session exchanges JSON events over a single WebSocket per the Realtime
// protocol. Audio travels as base64 PCM16 chunks inside
// input_audio_buffer.append and response.audio.delta events; server activity
// surfaces as the typed [live.Event] stream.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/voximux/voximux/pkg/audio"
	"github.com/voximux/voximux/pkg/live"
)

var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	sendQueueSize   = 32
	eventBufferSize = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel selects the OpenAI model new sessions run against.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL points the provider at a different WebSocket endpoint. Tests
// use it to target a local fake server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// endpoint builds the Realtime WebSocket URL. The model rides in the query
// string; credentials go in headers.
func (p *Provider) endpoint() string {
	return fmt.Sprintf("%s?model=%s", p.baseURL, p.model)
}

// Connect establishes a new OpenAI Realtime session with the given
// configuration. The returned Session accepts audio immediately after the
// session.update message is sent; a [live.ConnectedEvent] arrives once the
// endpoint announces the created session.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	if cfg.OutputFormat == (audio.Format{}) {
		cfg.OutputFormat = audio.PlaybackFormat
	}

	conn, _, err := websocket.Dial(ctx, p.endpoint(), &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:      conn,
		events:    make(chan live.Event, eventBufferSize),
		sendCh:    make(chan []byte, sendQueueSize),
		outFormat: cfg.OutputFormat,
		ctx:       sessCtx,
		cancel:    sessCancel,
	}

	if err := sess.sendSessionUpdate(cfg.Voice, cfg.Instructions); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.readLoop()
	go sess.writeLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice             string `json:"voice,omitempty"`
	Instructions      string `json:"instructions,omitempty"`
	InputAudioFormat  string `json:"input_audio_format"`
	OutputAudioFormat string `json:"output_audio_format"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64 PCM16
}

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta
	Delta string `json:"delta,omitempty"`

	// response.done
	Response *responseBody `json:"response,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

type responseBody struct {
	Usage *responseUsage `json:"usage,omitempty"`
}

type responseUsage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
	TotalTokens  int `json:"total_tokens,omitempty"`
}

// ── Session lifecycle ──────────────────────────────────────────────────────────

type session struct {
	conn      *websocket.Conn
	events    chan live.Event
	sendCh    chan []byte
	outFormat audio.Format

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// sendSessionUpdate configures voice, instructions and audio formats. It
// writes straight to the connection; the write loop is not running yet.
func (s *session) sendSessionUpdate(voice, instructions string) error {
	params := sessionParams{
		Voice:             voice,
		Instructions:      instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}

	data, err := json.Marshal(sessionUpdateMessage{Type: "session.update", Session: params})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// readLoop drains the WebSocket and translates server events into session
// events. It owns the events channel: it emits the final [live.ClosedEvent]
// and closes the channel when it exits.
func (s *session) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			reason := err.Error()
			if s.ctx.Err() != nil {
				reason = "session closed"
			} else if status := websocket.CloseStatus(err); status != -1 {
				reason = fmt.Sprintf("remote closed (status %d)", status)
			}
			// Best-effort: the consumer may already be gone after a local
			// Close, so never block on the final event.
			select {
			case s.events <- live.ClosedEvent{Reason: reason}:
			default:
			}
			return
		}

		var evt serverEvent
		if json.Unmarshal(data, &evt) != nil {
			continue
		}
		s.dispatch(&evt)
	}
}

// dispatch maps one Realtime event onto the session event stream. Unknown
// event types are ignored; the protocol adds new ones routinely.
func (s *session) dispatch(evt *serverEvent) {
	switch evt.Type {
	case "session.created":
		s.emit(live.ConnectedEvent{})

	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(pcm) == 0 {
			return
		}
		s.emit(live.AudioChunkEvent{Data: pcm, MIMEType: s.outFormat.MIME()})

	case "response.done":
		s.emit(live.TurnCompleteEvent{})
		if evt.Response != nil && evt.Response.Usage != nil && evt.Response.Usage.TotalTokens > 0 {
			s.emit(live.UsageEvent{TotalTokens: evt.Response.Usage.TotalTokens})
		}

	case "error":
		reason := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			reason = evt.Error.Message
		}
		s.emit(live.ErrorEvent{Cause: fmt.Errorf("openai: %s", reason)})
	}
}

// emit delivers ev to the events channel, giving up if the session context
// is cancelled while the consumer is not draining.
func (s *session) emit(ev live.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// writeLoop transmits queued payloads in order. A transport failure ends the
// loop; the read loop observes the same failure and reports it.
func (s *session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.sendCh:
			if err := s.conn.Write(s.ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}

// queue marshals v and hands it to the write loop, failing fast when the
// session is closed or the queue is full.
func (s *session) queue(v any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: %w", live.ErrSessionClosed)
	}
	s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	select {
	case s.sendCh <- data:
		return nil
	default:
		return fmt.Errorf("openai: %w", live.ErrSendQueueFull)
	}
}

// ── Session methods ────────────────────────────────────────────────────────────

// Send queues one PCM audio frame for transmission as an
// input_audio_buffer.append event. Fails fast with [live.ErrSendQueueFull]
// when the bounded queue is full.
func (s *session) Send(frame audio.AudioFrame) error {
	return s.queue(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(frame.Data),
	})
}

// EndInput commits the input audio buffer, signalling that no more audio will
// be sent this turn. The signal is queued behind previously queued frames so
// the endpoint sees them first, and fails fast like Send when the transport
// is wedged.
func (s *session) EndInput() error {
	return s.queue(map[string]string{"type": "input_audio_buffer.commit"})
}

// Events returns the channel on which session events arrive.
func (s *session) Events() <-chan live.Event { return s.events }

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// Cancelling the session context unblocks both loops.
	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
