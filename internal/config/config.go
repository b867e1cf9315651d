// Package config provides the configuration schema, loader, and provider
// registry for the voximux voice relay.
package config

import (
	"log/slog"

	"github.com/voximux/voximux/internal/natsbridge"
	"github.com/voximux/voximux/internal/relay"
)

// LogLevel controls log verbosity for the voximux process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l onto the slog level it names. Unrecognised or empty levels
// map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Mode selects how the process runs.
type Mode string

const (
	// ModeServe exposes sessions to remote clients over WebSocket and,
	// optionally, the bus.
	ModeServe Mode = "serve"

	// ModeDevice relays one session between the local microphone and
	// speakers.
	ModeDevice Mode = "device"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModeServe || m == ModeDevice
}

// Config is the root configuration structure for voximux.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	// Mode selects serve or device operation. Empty means serve.
	Mode Mode `yaml:"mode"`

	Server   ServerConfig      `yaml:"server"`
	Upstream UpstreamConfig    `yaml:"upstream"`
	Session  relay.Config      `yaml:"session"`
	Bus      natsbridge.Config `yaml:"bus"`
	Device   DeviceConfig      `yaml:"device"`
}

// ServerConfig holds network and logging settings for serve mode.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists host patterns allowed to open cross-origin
	// WebSocket connections. Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// UpstreamConfig selects and configures the realtime voice endpoint. The
// Name field is used to look up the constructor in the [Registry].
type UpstreamConfig struct {
	// Name selects the registered endpoint implementation
	// (e.g., "gemini", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the endpoint. Falls back to the
	// endpoint's conventional environment variable when empty.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the endpoint's default URL. Mainly for tests and
	// proxies; leave empty for the built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the endpoint. Empty uses the
	// endpoint's default realtime model.
	Model string `yaml:"model"`
}

// DeviceConfig selects the local audio device backend for device mode.
type DeviceConfig struct {
	// Name selects the registered device backend. Empty means "portaudio".
	Name string `yaml:"name"`
}
