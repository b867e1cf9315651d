package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/voximux/voximux/internal/observe"
	"github.com/voximux/voximux/internal/relay"
	"github.com/voximux/voximux/pkg/live"
)

// NotFoundError reports an operation on a client the registry does not know,
// such as starting a session before the client connected.
type NotFoundError struct {
	ClientID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("server: client %q not connected", e.ClientID)
}

// client is the registry's per-connection state. Its mutex guards the session
// slot; the registry mutex guards only membership in the map. A client's
// session start can therefore never stall another client's audio.
type client struct {
	id   string
	sink relay.Sink

	mu     sync.Mutex
	source *frameSource
	sess   *relay.Session
}

// RegistryConfig holds the dependencies for a [Registry].
type RegistryConfig struct {
	// Provider dials the upstream voice model for each session.
	Provider live.Provider
	// Session is the relay configuration applied to every session.
	Session relay.Config
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Registry tracks connected clients and the voice session each one may hold.
// One client maps to at most one active session; sessions of different
// clients are fully independent. All exported methods are safe for
// concurrent use.
type Registry struct {
	provider live.Provider
	log      *slog.Logger
	metrics  *observe.Metrics

	mu      sync.Mutex
	cfg     relay.Config
	clients map[string]*client
}

// NewRegistry creates a Registry with the given dependencies.
func NewRegistry(cfg RegistryConfig) *Registry {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Registry{
		provider: cfg.Provider,
		cfg:      cfg.Session,
		log:      log,
		metrics:  metrics,
		clients:  make(map[string]*client),
	}
}

// Connect registers a client and the sink its session events are delivered
// to. The ID must not already be registered.
func (r *Registry) Connect(clientID string, sink relay.Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[clientID]; ok {
		return fmt.Errorf("server: client %q already connected", clientID)
	}
	r.clients[clientID] = &client{id: clientID, sink: sink}
	r.metrics.RecordClientConnected()
	r.log.Info("client connected", "client", clientID)
	return nil
}

// StartSession opens a voice session for the client. It returns a
// [*NotFoundError] when the client never connected and an error when the
// client already holds a session or the upstream dial fails.
func (r *Registry) StartSession(ctx context.Context, clientID, sessionID string) error {
	c := r.lookup(clientID)
	if c == nil {
		return &NotFoundError{ClientID: clientID}
	}

	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return fmt.Errorf("server: client %q already in a voice session", clientID)
	}
	source := newFrameSource()
	sess := relay.New(r.provider, source, c.sink, r.sessionConfig(),
		relay.WithLogger(r.log.With("client", clientID, "session", sessionID)))
	c.source = source
	c.sess = sess
	c.mu.Unlock()

	// The slot is reserved; dialing happens outside the lock so other
	// operations on this client keep working meanwhile.
	if err := sess.Start(ctx); err != nil {
		r.clearSession(c, sess)
		source.Stop()
		return err
	}

	go func() {
		<-sess.Done()
		r.clearSession(c, sess)
	}()

	r.log.Info("voice session started", "client", clientID, "session", sessionID)
	return nil
}

// Audio feeds one PCM payload into the client's session. Audio from unknown
// clients or outside a session is dropped and logged, never an error.
func (r *Registry) Audio(clientID string, data []byte) {
	c := r.lookup(clientID)
	if c == nil {
		r.log.Debug("audio from unknown client, dropping", "client", clientID, "bytes", len(data))
		return
	}
	c.mu.Lock()
	source := c.source
	c.mu.Unlock()
	if source == nil {
		r.log.Debug("audio without active session, dropping", "client", clientID, "bytes", len(data))
		return
	}
	if !source.Push(data) {
		r.metrics.RecordFrameDropped("backlog")
		r.log.Debug("session backlog, shedding frame", "client", clientID, "bytes", len(data))
	}
}

// Stop ends the client's active session, if any. Stopping a client without a
// session, or one the registry does not know, is a no-op.
func (r *Registry) Stop(clientID string) {
	c := r.lookup(clientID)
	if c == nil {
		return
	}
	r.stopSession(c)
}

// Disconnect ends the client's session and removes it from the registry.
// Unknown clients are tolerated, so transports may call this unconditionally
// on teardown.
func (r *Registry) Disconnect(clientID string) {
	r.mu.Lock()
	c, ok := r.clients[clientID]
	delete(r.clients, clientID)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.stopSession(c)
	r.metrics.RecordClientDisconnected()
	r.log.Info("client disconnected", "client", clientID)
}

// SetSessionConfig replaces the relay configuration applied to sessions
// started after the call. Running sessions keep the instruction they
// connected with.
func (r *Registry) SetSessionConfig(cfg relay.Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
	r.log.Info("session config updated", "agent_type", cfg.AgentType, "docs", len(cfg.Docs))
}

// Close stops every active session concurrently and waits for all of them.
// It returns the first stop error encountered. Clients stay registered;
// callers are expected to have stopped the transports feeding the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	clients := make([]*client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	var eg errgroup.Group
	for _, c := range clients {
		eg.Go(func() error {
			return r.closeSession(c)
		})
	}
	return eg.Wait()
}

// ActiveClients reports the number of connected clients.
func (r *Registry) ActiveClients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// ActiveSessions reports the number of clients currently in a voice session.
func (r *Registry) ActiveSessions() int {
	r.mu.Lock()
	clients := make([]*client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	n := 0
	for _, c := range clients {
		c.mu.Lock()
		if c.sess != nil {
			n++
		}
		c.mu.Unlock()
	}
	return n
}

func (r *Registry) lookup(clientID string) *client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[clientID]
}

func (r *Registry) sessionConfig() relay.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// stopSession stops and clears the client's session slot, if occupied.
func (r *Registry) stopSession(c *client) {
	if err := r.closeSession(c); err != nil {
		r.log.Warn("session stop", "client", c.id, "err", err)
	}
}

// closeSession stops the client's session and returns the stop error. A
// client without a session is a no-op.
func (r *Registry) closeSession(c *client) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	err := sess.Stop()
	r.clearSession(c, sess)
	return err
}

// clearSession empties the client's slot when it still holds sess. Both the
// session watcher and explicit stops race here; whoever comes first wins.
func (r *Registry) clearSession(c *client, sess *relay.Session) {
	c.mu.Lock()
	if c.sess == sess {
		c.source, c.sess = nil, nil
	}
	c.mu.Unlock()
}
