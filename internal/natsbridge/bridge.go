package natsbridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/voximux/voximux/internal/server"
)

// Subject layout. Identity rides in the subject, media in the payload:
//
//	voice.client.<id>.start       payload: session identifier (text)
//	voice.client.<id>.audio       payload: raw 16 kHz mono 16-bit PCM
//	voice.client.<id>.stop        payload: ignored
//	voice.client.<id>.disconnect  payload: ignored
//	voice.server.<id>             payload: JSON server.ServerMessage events
const (
	subjectClientWildcard = "voice.client.>"
	subjectClientPrefix   = "voice.client."
	subjectServerPrefix   = "voice.server."
)

const (
	opStart      = "start"
	opAudio      = "audio"
	opStop       = "stop"
	opDisconnect = "disconnect"
)

// SubjectStart returns the subject that starts a voice session for a client.
func SubjectStart(clientID string) string {
	return subjectClientPrefix + clientID + "." + opStart
}

// SubjectAudio returns the subject a client publishes microphone PCM on.
func SubjectAudio(clientID string) string {
	return subjectClientPrefix + clientID + "." + opAudio
}

// SubjectStop returns the subject that ends a client's voice session.
func SubjectStop(clientID string) string {
	return subjectClientPrefix + clientID + "." + opStop
}

// SubjectDisconnect returns the subject that detaches a client entirely.
func SubjectDisconnect(clientID string) string {
	return subjectClientPrefix + clientID + "." + opDisconnect
}

// ServerSubject returns the subject a client receives session events on.
func ServerSubject(clientID string) string {
	return subjectServerPrefix + clientID
}

// Bridge subscribes to the client subjects and drives a [server.Registry]
// with them. A client is registered on its first start and stays registered
// until it publishes a disconnect or the bridge closes, so it can run
// several sessions back to back.
type Bridge struct {
	conn     *nats.Conn
	registry *server.Registry
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sub    *nats.Subscription
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	sinks  map[string]*busSink
}

// New creates a Bridge on top of an established connection.
func New(parent context.Context, conn *nats.Conn, registry *server.Registry, log *slog.Logger) *Bridge {
	ctx, cancel := context.WithCancel(parent)
	return &Bridge{
		conn:     conn,
		registry: registry,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		sinks:    make(map[string]*busSink),
	}
}

// Start subscribes to the client subject space.
func (b *Bridge) Start() error {
	sub, err := b.conn.Subscribe(subjectClientWildcard, b.handleClient)
	if err != nil {
		return fmt.Errorf("natsbridge: subscribe %s: %w", subjectClientWildcard, err)
	}
	b.sub = sub
	b.log.Info("voice bridge listening", "subject", subjectClientWildcard)
	return nil
}

// Close unsubscribes, detaches every bridge client and waits for in-flight
// work to finish.
func (b *Bridge) Close() {
	b.cancel()

	b.mu.Lock()
	b.closed = true
	ids := make([]string, 0, len(b.sinks))
	for id := range b.sinks {
		ids = append(ids, id)
	}
	b.sinks = make(map[string]*busSink)
	b.mu.Unlock()

	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	for _, id := range ids {
		b.registry.Disconnect(id)
	}
	b.wg.Wait()
}

// handleClient dispatches one message from the client subject space. Audio
// is handled inline since it never blocks; session control runs in its own
// goroutine so a slow upstream dial or stop cannot stall the dispatcher for
// every other client.
func (b *Bridge) handleClient(msg *nats.Msg) {
	tokens := strings.Split(msg.Subject, ".")
	if len(tokens) != 4 || tokens[2] == "" {
		b.log.Warn("malformed client subject", "subject", msg.Subject)
		return
	}
	clientID, op := tokens[2], tokens[3]

	switch op {
	case opStart:
		b.startSession(clientID, strings.TrimSpace(string(msg.Data)))
	case opAudio:
		b.registry.Audio(clientID, msg.Data)
	case opStop:
		b.spawn(func() { b.registry.Stop(clientID) })
	case opDisconnect:
		b.disconnect(clientID)
	default:
		b.log.Warn("unknown client operation", "subject", msg.Subject)
	}
}

func (b *Bridge) startSession(clientID, sessionID string) {
	sink := b.ensureClient(clientID)
	if sink == nil {
		return
	}
	b.spawn(func() {
		if err := b.registry.StartSession(b.ctx, clientID, sessionID); err != nil {
			b.log.Warn("start session", "client", clientID, "session", sessionID, "err", err)
			sink.Error(err)
		}
	})
}

// ensureClient registers the client on first contact and returns its sink.
func (b *Bridge) ensureClient(clientID string) *busSink {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	if sink, ok := b.sinks[clientID]; ok {
		return sink
	}
	sink := &busSink{
		conn:    b.conn,
		subject: ServerSubject(clientID),
		log:     b.log.With("client", clientID),
	}
	if err := b.registry.Connect(clientID, sink); err != nil {
		b.log.Warn("register bus client", "client", clientID, "err", err)
		return nil
	}
	b.sinks[clientID] = sink
	return sink
}

func (b *Bridge) disconnect(clientID string) {
	b.mu.Lock()
	_, known := b.sinks[clientID]
	delete(b.sinks, clientID)
	b.mu.Unlock()
	if !known {
		return
	}
	b.spawn(func() { b.registry.Disconnect(clientID) })
}

// spawn runs fn on the bridge's wait group unless the bridge is closed.
func (b *Bridge) spawn(fn func()) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()
	go func() {
		defer b.wg.Done()
		fn()
	}()
}
