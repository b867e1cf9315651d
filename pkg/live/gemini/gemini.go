// Package gemini adapts Google's Gemini Live API to the [live.Provider]
// interface.
//
// A session speaks the BidiGenerateContent protocol over a single WebSocket:
// JSON text frames carrying base64 PCM chunks tagged with audio/pcm;rate=<N>
// MIME types. Server activity surfaces as the typed [live.Event] stream.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/voximux/voximux/pkg/audio"
	"github.com/voximux/voximux/pkg/live"
)

var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	bidiPath = "google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	pingInterval = 20 * time.Second
	pingTimeout  = 5 * time.Second

	// sendQueueSize bounds the outbound frame queue. When the transport
	// cannot drain this many frames, Send fails fast instead of blocking.
	sendQueueSize = 32

	eventBufferSize = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel selects the Gemini model new sessions run against.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL points the provider at a different WebSocket endpoint. Tests
// use it to target a local fake server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new Gemini Live Provider with the given API key and options.
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

// endpoint builds the BidiGenerateContent WebSocket URL. Gemini authenticates
// through the key query parameter rather than a header.
func (p *Provider) endpoint() string {
	return fmt.Sprintf("%s/%s?key=%s", p.baseURL, bidiPath, p.apiKey)
}

// Connect establishes a new Gemini Live session with the given configuration.
// The returned Session accepts audio immediately after the setup message is
// sent; a [live.ConnectedEvent] arrives once the endpoint acknowledges it.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	if cfg.InputFormat == (audio.Format{}) {
		cfg.InputFormat = audio.CaptureFormat
	}
	if cfg.OutputFormat == (audio.Format{}) {
		cfg.OutputFormat = audio.PlaybackFormat
	}

	conn, _, err := websocket.Dial(ctx, p.endpoint(), &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
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

	if err := sess.sendSetup(p.model, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go sess.readLoop()
	go sess.writeLoop()
	go sess.pingLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model             string             `json:"model"`
	GenerationConfig  generationConfig   `json:"generationConfig"`
	SystemInstruction *systemInstruction `json:"systemInstruction,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64 PCM
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks    []mediaChunk `json:"mediaChunks,omitempty"`
	AudioStreamEnd bool         `json:"audioStreamEnd,omitempty"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64 PCM
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	UsageMetadata *usageMetadata   `json:"usageMetadata,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn    *modelTurn `json:"modelTurn,omitempty"`
	TurnComplete bool       `json:"turnComplete,omitempty"`
	Interrupted  bool       `json:"interrupted,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type usageMetadata struct {
	PromptTokenCount   int `json:"promptTokenCount,omitempty"`
	ResponseTokenCount int `json:"responseTokenCount,omitempty"`
	TotalTokenCount    int `json:"totalTokenCount,omitempty"`
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

// sendSetup writes the initial BidiGenerateContent setup message straight to
// the connection; the write loop is not running yet.
func (s *session) sendSetup(model string, cfg live.SessionConfig) error {
	setup := setupConfig{
		Model: "models/" + model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"audio"},
		},
	}
	if cfg.Instructions != "" {
		setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}
	if cfg.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}

	data, err := json.Marshal(setupMessage{Setup: setup})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// readLoop drains the WebSocket and translates server messages into events.
// It owns the events channel: it emits the final [live.ClosedEvent] and
// closes the channel when it exits.
func (s *session) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			reason := "connection closed"
			if s.ctx.Err() != nil {
				reason = "session closed"
			} else if status := websocket.CloseStatus(err); status != -1 {
				reason = fmt.Sprintf("remote closed (status %d)", status)
			} else {
				reason = err.Error()
			}
			// Best-effort: the consumer may already be gone after a local
			// Close, so never block on the final event.
			select {
			case s.events <- live.ClosedEvent{Reason: reason}:
			default:
			}
			return
		}

		var msg serverMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		s.dispatch(&msg)
	}
}

// dispatch fans one server message out into zero or more events. A single
// frame can carry several of these fields at once.
func (s *session) dispatch(msg *serverMessage) {
	if msg.SetupComplete != nil {
		s.emit(live.ConnectedEvent{})
	}
	if msg.Error != nil {
		reason := msg.Error.Message
		if reason == "" {
			reason = "unknown error"
		}
		s.emit(live.ErrorEvent{Cause: fmt.Errorf("gemini: %s", reason)})
	}
	if msg.ServerContent != nil {
		s.dispatchContent(msg.ServerContent)
	}
	if msg.UsageMetadata != nil && msg.UsageMetadata.TotalTokenCount > 0 {
		s.emit(live.UsageEvent{TotalTokens: msg.UsageMetadata.TotalTokenCount})
	}
}

func (s *session) dispatchContent(sc *serverContent) {
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil || len(pcm) == 0 {
				continue
			}
			mime := p.InlineData.MIMEType
			if mime == "" {
				mime = s.outFormat.MIME()
			}
			s.emit(live.AudioChunkEvent{Data: pcm, MIMEType: mime})
		}
	}

	// An interrupted turn ends the model's speaking span just like a
	// completed one: the endpoint is listening again either way.
	if sc.TurnComplete || sc.Interrupted {
		s.emit(live.TurnCompleteEvent{})
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

// pingLoop keeps idle timers along the path (NATs, load balancers) from
// reaping a connection that is quiet between turns.
func (s *session) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, pingTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// queue marshals v and hands it to the write loop, failing fast when the
// session is closed or the queue is full.
func (s *session) queue(v any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("gemini: %w", live.ErrSessionClosed)
	}
	s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	select {
	case s.sendCh <- data:
		return nil
	default:
		return fmt.Errorf("gemini: %w", live.ErrSendQueueFull)
	}
}

// ── Session methods ────────────────────────────────────────────────────────────

// Send queues one PCM audio frame for transmission as a realtimeInput media
// chunk. Fails fast with [live.ErrSendQueueFull] when the bounded queue is
// full.
func (s *session) Send(frame audio.AudioFrame) error {
	return s.queue(realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{{
				MIMEType: audio.PCMMIME(frame.SampleRate),
				Data:     base64.StdEncoding.EncodeToString(frame.Data),
			}},
		},
	})
}

// EndInput signals that no more audio will be sent this turn. The signal is
// queued behind previously queued frames so the endpoint sees them first,
// and fails fast like Send when the transport is wedged.
func (s *session) EndInput() error {
	return s.queue(realtimeInputMessage{
		RealtimeInput: realtimeInput{AudioStreamEnd: true},
	})
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

	// Cancelling the session context unblocks all three loops.
	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
