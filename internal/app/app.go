// Package app wires all voximux subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the
// subsystems the configured mode needs, Run blocks until the context is
// cancelled or a subsystem fails, and Shutdown tears everything down in
// reverse order.
//
// Serve mode exposes voice sessions to remote clients over WebSocket and,
// optionally, a NATS bus. Device mode runs a single session between the
// local microphone and speakers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voximux/voximux/internal/config"
	"github.com/voximux/voximux/internal/health"
	"github.com/voximux/voximux/internal/natsbridge"
	"github.com/voximux/voximux/internal/observe"
	"github.com/voximux/voximux/internal/relay"
	"github.com/voximux/voximux/internal/server"
	"github.com/voximux/voximux/pkg/audio"
	"github.com/voximux/voximux/pkg/live"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	// Live dials the upstream voice endpoint. Required in both modes.
	Live live.Provider

	// Capture and Playback are the local audio devices. Required in device
	// mode, unused in serve mode.
	Capture  audio.CaptureDevice
	Playback audio.PlaybackDevice
}

// App owns all subsystem lifetimes for one voximux process.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger

	// configFile, when set, enables the config watcher.
	configFile string
	watchOpts  []config.WatcherOption
	logLevel   *slog.LevelVar

	// Serve mode subsystems.
	registry *server.Registry
	ln       net.Listener
	httpSrv  *http.Server
	embedded *natsbridge.EmbeddedServer
	bus      *natsbridge.Client
	bridge   *natsbridge.Bridge
	watcher  *config.Watcher

	// Device mode session.
	session *relay.Session

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles
// and wire process-level facilities.
type Option func(*App)

// WithLogger sets the logger for the app and everything it creates.
// The default is slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithConfigFile enables hot reloading: the app watches path and applies
// reloadable changes (log level, session config) on edit. The opts are
// passed through to the watcher.
func WithConfigFile(path string, opts ...config.WatcherOption) Option {
	return func(a *App) {
		a.configFile = path
		a.watchOpts = opts
	}
}

// WithLogLevelVar hands the app the level var backing the process logger so
// config reloads can retune verbosity.
func WithLogLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App for the mode named in cfg. The providers struct comes
// from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: in serve mode it binds the
// listen address, connects the bus, and starts the config watcher; in device
// mode it opens the playback device and builds the session. Run starts the
// actual traffic.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}

	if providers.Live == nil {
		return nil, errors.New("app: no upstream provider configured")
	}

	if cfg.Mode == config.ModeDevice {
		if err := a.initDevice(ctx); err != nil {
			return nil, fmt.Errorf("app: init device: %w", err)
		}
		return a, nil
	}

	// ── 1. Session registry ──────────────────────────────────────────────
	a.registry = server.NewRegistry(server.RegistryConfig{
		Provider: providers.Live,
		Session:  cfg.Session,
		Logger:   a.log,
	})

	// ── 2. Message bus ───────────────────────────────────────────────────
	if err := a.initBus(ctx); err != nil {
		return nil, fmt.Errorf("app: init bus: %w", err)
	}

	// ── 3. HTTP server ───────────────────────────────────────────────────
	if err := a.initHTTP(); err != nil {
		return nil, fmt.Errorf("app: init http: %w", err)
	}

	// ── 4. Config watcher ────────────────────────────────────────────────
	if err := a.initWatcher(); err != nil {
		return nil, fmt.Errorf("app: init watcher: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initDevice opens the playback device and builds the local voice session.
func (a *App) initDevice(ctx context.Context) error {
	if a.providers.Capture == nil || a.providers.Playback == nil {
		return errors.New("device mode requires capture and playback devices")
	}

	if err := a.providers.Playback.Start(ctx); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}
	a.closers = append(a.closers, a.providers.Playback.Stop)

	spk := newSpeakerSink(a.providers.Playback, a.log)
	a.session = relay.New(a.providers.Live, a.providers.Capture, spk, a.cfg.Session,
		relay.WithLogger(a.log))
	return nil
}

// initBus starts the embedded NATS server when configured, connects the bus
// client, and builds the bridge that serves bus clients from the registry.
func (a *App) initBus(ctx context.Context) error {
	if !a.cfg.Bus.Enabled {
		return nil
	}

	busCfg := a.cfg.Bus

	embedded, err := natsbridge.StartEmbedded(busCfg, a.log)
	if err != nil {
		return err
	}
	if embedded != nil {
		a.embedded = embedded
		a.closers = append(a.closers, func() error {
			a.embedded.Shutdown()
			return nil
		})
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	client, err := natsbridge.Connect(busCfg, a.log)
	if err != nil {
		return err
	}
	a.bus = client
	a.closers = append(a.closers, func() error {
		a.bus.Close()
		return nil
	})

	a.bridge = natsbridge.New(ctx, client.Conn(), a.registry, a.log)
	a.closers = append(a.closers, func() error {
		a.bridge.Close()
		return nil
	})
	return nil
}

// initHTTP binds the listen address and assembles the route tree.
func (a *App) initHTTP() error {
	ws := server.New(a.registry,
		server.WithLogger(a.log),
		server.WithOriginPatterns(a.cfg.Server.AllowedOrigins...))

	// Operational routes go through the observability middleware. The
	// websocket route stays outside it: a hijacked connection cannot use
	// the instrumented response writer.
	ops := http.NewServeMux()
	a.healthHandler().Register(ops)
	ops.Handle("GET /metrics", promhttp.Handler())

	root := http.NewServeMux()
	ws.Register(root)
	root.Handle("/", observe.Middleware(observe.DefaultMetrics())(ops))

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %q: %w", addr, err)
	}
	a.ln = ln
	a.httpSrv = &http.Server{
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// healthHandler builds the readiness checks for the configured subsystems.
// With the bus disabled there is nothing beyond the process itself to probe.
func (a *App) healthHandler() *health.Handler {
	var checkers []health.Checker
	if a.bus != nil {
		checkers = append(checkers, health.BoolChecker("bus", a.bus.Healthy))
	}
	return health.New(checkers...)
}

// initWatcher starts the config file watcher when a file was supplied.
func (a *App) initWatcher() error {
	if a.configFile == "" {
		return nil
	}
	w, err := config.NewWatcher(a.configFile, a.applyReload, a.watchOpts...)
	if err != nil {
		return err
	}
	a.watcher = w
	a.closers = append(a.closers, func() error {
		a.watcher.Stop()
		return nil
	})
	return nil
}

// applyReload applies the hot-reloadable parts of a config file change.
// Everything else is logged and requires a restart.
func (a *App) applyReload(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.SessionChanged && a.registry != nil {
		a.registry.SetSessionConfig(new.Session)
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Level())
		a.log.Info("log level updated", "level", d.NewLogLevel)
	}
	for _, path := range d.RestartNeeded {
		a.log.Warn("config change needs a restart to apply", "path", path)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the configured mode and blocks until ctx is cancelled or a
// subsystem fails. On cancellation it returns ctx.Err(); call Shutdown
// afterwards to release resources.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Mode == config.ModeDevice {
		return a.runDevice(ctx)
	}
	return a.runServe(ctx)
}

// runServe serves WebSocket and bus traffic until ctx is done.
func (a *App) runServe(ctx context.Context) error {
	if a.bridge != nil {
		if err := a.bridge.Start(); err != nil {
			return fmt.Errorf("app: start bus bridge: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ServeTLS(a.ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.Serve(a.ln)
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	a.log.Info("app running",
		"addr", a.ln.Addr().String(),
		"bus", a.cfg.Bus.Enabled,
		"agent", a.cfg.Session.AgentType,
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	}
}

// runDevice relays one session between the local devices until ctx is done
// or the session ends.
func (a *App) runDevice(ctx context.Context) error {
	if err := a.session.Start(ctx); err != nil {
		return fmt.Errorf("app: start session: %w", err)
	}

	a.log.Info("app running",
		"mode", config.ModeDevice,
		"agent", a.cfg.Session.AgentType,
	)

	select {
	case <-ctx.Done():
		if err := a.session.Stop(); err != nil {
			a.log.Warn("session stop", "err", err)
		}
		<-a.session.Done()
		return ctx.Err()
	case <-a.session.Done():
		if err := a.session.Err(); err != nil {
			return fmt.Errorf("app: session ended: %w", err)
		}
		return nil
	}
}

// Addr returns the bound listen address in serve mode, or "" before New or
// in device mode. Useful with a ":0" listen address in tests.
func (a *App) Addr() string {
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		// Stop the HTTP server first so no new clients arrive while the
		// rest unwinds. The bridge closer does the same for bus clients.
		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				a.log.Warn("http shutdown", "err", err)
			}
		}
		// The server only closes listeners it served on; releasing the
		// port here covers a shutdown before Run.
		if a.ln != nil {
			_ = a.ln.Close()
		}

		if a.session != nil {
			if err := a.session.Stop(); err != nil {
				a.log.Warn("session stop", "err", err)
			}
		}

		// WebSocket connections are hijacked, so the HTTP shutdown above
		// does not end them. Closing the registry releases every upstream
		// session those clients still hold.
		if a.registry != nil {
			if err := a.registry.Close(); err != nil {
				a.log.Warn("registry close", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
