// Command voximux is the main entry point for the Voximux voice relay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voximux/voximux/internal/app"
	"github.com/voximux/voximux/internal/config"
	"github.com/voximux/voximux/internal/natsbridge"
	"github.com/voximux/voximux/internal/observe"
	"github.com/voximux/voximux/pkg/audio/portaudio"
	"github.com/voximux/voximux/pkg/live"
	"github.com/voximux/voximux/pkg/live/gemini"
	"github.com/voximux/voximux/pkg/live/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the configuration file when it changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voximux: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voximux: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can adjust it at
	// runtime without rebuilding the handler.
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("voximux starting",
		"config", *configPath,
		"mode", cfg.Mode,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voximux",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, deviceClose, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if deviceClose != nil {
		defer func() {
			if err := deviceClose(); err != nil {
				slog.Warn("audio backend close error", "err", err)
			}
		}()
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithLogger(logger),
		app.WithLogLevelVar(level),
	}
	if *watch {
		opts = append(opts, app.WithConfigFile(*configPath))
	}

	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		shutdownApp(application)
		return 1
	}

	slog.Info("shutdown signal received, stopping…")
	if !shutdownApp(application) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func shutdownApp(application *app.App) bool {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return false
	}
	return true
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the upstream and device factories that ship
// with Voximux into reg. Config names outside this set fail at build time
// with [config.ErrProviderNotRegistered].
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterUpstream("gemini", func(cfg config.UpstreamConfig) (live.Provider, error) {
		var opts []gemini.Option
		if cfg.Model != "" {
			opts = append(opts, gemini.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		return gemini.New(cfg.APIKey, opts...), nil
	})

	reg.RegisterUpstream("openai", func(cfg config.UpstreamConfig) (live.Provider, error) {
		var opts []openai.Option
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(cfg.APIKey, opts...), nil
	})

	reg.RegisterDevice("portaudio", func(_ config.DeviceConfig) (config.DeviceSet, error) {
		if err := portaudio.Init(); err != nil {
			return config.DeviceSet{}, err
		}
		return config.DeviceSet{
			Capture:  portaudio.NewCapture(),
			Playback: portaudio.NewPlayback(),
			Close:    portaudio.Terminate,
		}, nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the providers named in cfg using the registry.
// The returned close function, when non-nil, releases the audio backend and
// must run after the application has shut down.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, func() error, error) {
	ps := &app.Providers{}

	upstream, err := reg.CreateUpstream(cfg.Upstream)
	if err != nil {
		return nil, nil, fmt.Errorf("create upstream provider %q: %w", cfg.Upstream.Name, err)
	}
	ps.Live = upstream
	slog.Info("upstream provider created", "name", cfg.Upstream.Name, "model", cfg.Upstream.Model)

	if cfg.Mode != config.ModeDevice {
		return ps, nil, nil
	}

	deviceCfg := cfg.Device
	if deviceCfg.Name == "" {
		deviceCfg.Name = "portaudio"
	}
	set, err := reg.CreateDevice(deviceCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create audio device %q: %w", deviceCfg.Name, err)
	}
	ps.Capture = set.Capture
	ps.Playback = set.Playback
	slog.Info("audio device created", "name", deviceCfg.Name)
	return ps, set.Close, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Voximux — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Mode", string(cfg.Mode))
	upstream := cfg.Upstream.Name
	if cfg.Upstream.Model != "" {
		upstream += " / " + cfg.Upstream.Model
	}
	printRow("Upstream", upstream)
	printRow("Agent type", cfg.Session.AgentType)
	printRow("Voice", cfg.Session.Voice)
	printRow("Docs", fmt.Sprintf("%d", len(cfg.Session.Docs)))
	printRow("Bus", busSummary(cfg.Bus))
	if cfg.Mode == config.ModeDevice {
		name := cfg.Device.Name
		if name == "" {
			name = "portaudio"
		}
		printRow("Audio device", name)
	} else if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

func busSummary(cfg natsbridge.Config) string {
	switch {
	case !cfg.Enabled:
		return "(disabled)"
	case cfg.Embedded:
		return "embedded"
	default:
		return fmt.Sprintf("%d server(s)", len(cfg.Servers))
	}
}
