// Package server exposes voice sessions to WebSocket clients. Each
// connection gets an isolated client entry in a [Registry]; messages on the
// socket start, feed and stop that client's relay session, and session
// events stream back on the same socket.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// maxMessageBytes caps a single client frame. Audio payloads arrive in small
// chunks, so anything larger indicates a misbehaving client.
const maxMessageBytes = 1 << 20

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithOriginPatterns allows cross-origin browser connections from the given
// host patterns. Without it, only same-origin requests are accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// Server accepts client WebSocket connections and dispatches their messages
// to a [Registry].
type Server struct {
	registry *Registry
	log      *slog.Logger
	origins  []string
}

// New creates a Server on top of the given registry.
func New(registry *Registry, opts ...Option) *Server {
	s := &Server{
		registry: registry,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds the WebSocket endpoint to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWS)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		s.log.Debug("websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	clientID := uuid.NewString()
	log := s.log.With("client", clientID)

	sink := newWSSink(conn, log)
	if err := s.registry.Connect(clientID, sink); err != nil {
		log.Error("register client", "err", err)
		sink.close()
		conn.Close(websocket.StatusInternalError, "registration failed")
		return
	}

	s.readLoop(r, conn, clientID, sink, log)

	// Teardown order matters: Disconnect delivers the final session events
	// through the sink, so the write loop is shut down after it.
	s.registry.Disconnect(clientID)
	sink.close()
	conn.Close(websocket.StatusNormalClosure, "")
}

// readLoop consumes client frames until the connection fails or closes.
func (s *Server) readLoop(r *http.Request, conn *websocket.Conn, clientID string, sink *wsSink, log *slog.Logger) {
	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				log.Debug("client closed connection", "status", status)
			} else if ctx.Err() == nil {
				log.Debug("client read failed", "err", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn("malformed client message", "err", err)
			continue
		}

		switch msg.Type {
		case TypeStartSession:
			if err := s.registry.StartSession(ctx, clientID, msg.SessionID); err != nil {
				log.Warn("start session", "err", err)
				sink.Error(err)
			}
		case TypeAudioData:
			s.registry.Audio(clientID, msg.AudioData)
		case TypeStopSession:
			s.registry.Stop(clientID)
		default:
			log.Warn("unknown message type", "type", msg.Type)
		}
	}
}
