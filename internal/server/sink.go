package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voximux/voximux/internal/relay"
	"github.com/voximux/voximux/pkg/audio"
)

const (
	// sinkQueue bounds the outbound frames buffered per client.
	sinkQueue = 64
	// writeTimeout caps a single WebSocket write.
	writeTimeout = 5 * time.Second
)

// wsSink delivers session events to one WebSocket client. Every write goes
// through a single goroutine; callbacks enqueue pre-marshaled frames and
// never block, so a stalled client cannot stall the relay's event loop. When
// the queue is full the message is dropped and logged.
//
// A wsSink lives as long as the client connection and is reused across voice
// sessions on that connection.
type wsSink struct {
	conn *websocket.Conn
	log  *slog.Logger

	out  chan []byte
	stop chan struct{}
	idle chan struct{} // closed when the write loop exits

	closeOnce sync.Once
}

func newWSSink(conn *websocket.Conn, log *slog.Logger) *wsSink {
	s := &wsSink{
		conn: conn,
		log:  log,
		out:  make(chan []byte, sinkQueue),
		stop: make(chan struct{}),
		idle: make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *wsSink) writeLoop() {
	defer close(s.idle)
	for {
		select {
		case <-s.stop:
			return
		case data := <-s.out:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := s.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.log.Debug("client write failed", "err", err)
				return
			}
		}
	}
}

// send marshals msg and queues it for the write loop. Messages to a slow or
// gone client are dropped; the session itself keeps running.
func (s *wsSink) send(msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("marshal server message", "type", msg.Type, "err", err)
		return
	}
	select {
	case s.out <- data:
	case <-s.stop:
	default:
		s.log.Warn("client queue full, dropping message", "type", msg.Type)
	}
}

// close stops the write loop. Safe to call more than once; messages already
// queued but not yet written are discarded.
func (s *wsSink) close() {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.idle
}

func (s *wsSink) Connected() {
	s.send(ServerMessage{Type: TypeVoiceConnected})
}

func (s *wsSink) SpeakingStarted() {
	s.send(ServerMessage{Type: TypeSpeakingStart})
}

func (s *wsSink) Audio(frame audio.AudioFrame) {
	s.send(ServerMessage{
		Type:      TypeAudioResponse,
		AudioData: frame.Data,
		MIMEType:  frame.Format().MIME(),
	})
}

func (s *wsSink) SpeakingEnded() {
	s.send(ServerMessage{Type: TypeSpeakingEnd})
}

func (s *wsSink) Usage(totalTokens int) {
	s.send(ServerMessage{Type: TypeTokenUsage, TotalTokens: totalTokens})
}

func (s *wsSink) Error(err error) {
	s.send(ServerMessage{Type: TypeVoiceError, Message: err.Error()})
}

func (s *wsSink) Disconnected(reason string) {
	s.send(ServerMessage{Type: TypeVoiceDisconnected, Reason: reason})
}

var _ relay.Sink = (*wsSink)(nil)
