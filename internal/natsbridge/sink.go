package natsbridge

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/voximux/voximux/internal/relay"
	"github.com/voximux/voximux/internal/server"
	"github.com/voximux/voximux/pkg/audio"
)

// busSink delivers session events to one client's server subject. Publishes
// are fire-and-forget: a failed publish is logged and dropped while the
// session keeps running, matching the WebSocket sink's behaviour.
type busSink struct {
	conn    *nats.Conn
	subject string
	log     *slog.Logger
}

func (s *busSink) publish(msg server.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("marshal server message", "type", msg.Type, "err", err)
		return
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		s.log.Warn("publish failed, dropping message", "type", msg.Type, "err", err)
	}
}

func (s *busSink) Connected() {
	s.publish(server.ServerMessage{Type: server.TypeVoiceConnected})
}

func (s *busSink) SpeakingStarted() {
	s.publish(server.ServerMessage{Type: server.TypeSpeakingStart})
}

func (s *busSink) Audio(frame audio.AudioFrame) {
	s.publish(server.ServerMessage{
		Type:      server.TypeAudioResponse,
		AudioData: frame.Data,
		MIMEType:  frame.Format().MIME(),
	})
}

func (s *busSink) SpeakingEnded() {
	s.publish(server.ServerMessage{Type: server.TypeSpeakingEnd})
}

func (s *busSink) Usage(totalTokens int) {
	s.publish(server.ServerMessage{Type: server.TypeTokenUsage, TotalTokens: totalTokens})
}

func (s *busSink) Error(err error) {
	s.publish(server.ServerMessage{Type: server.TypeVoiceError, Message: err.Error()})
}

func (s *busSink) Disconnected(reason string) {
	s.publish(server.ServerMessage{Type: server.TypeVoiceDisconnected, Reason: reason})
}

var _ relay.Sink = (*busSink)(nil)
