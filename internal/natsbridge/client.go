// Package natsbridge exposes voice sessions on a NATS bus. Device clients
// publish control and microphone traffic on per-client subjects and receive
// the session event stream on their own reply subject, using the same JSON
// envelope as the WebSocket transport.
package natsbridge

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"gopkg.in/yaml.v3"
)

// defaultConnectTimeout applies when Config.ConnectTimeout is zero.
const defaultConnectTimeout = 5 * time.Second

// Duration is a [time.Duration] that decodes from YAML scalars in Go
// duration syntax ("5s", "250ms") or bare integers (nanoseconds).
type Duration time.Duration

// UnmarshalYAML implements [yaml.Unmarshaler].
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("natsbridge: duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	case int64:
		*d = Duration(v)
	default:
		return fmt.Errorf("natsbridge: duration: cannot decode %v", value.Tag)
	}
	return nil
}

// Config describes the bus connection and the optional embedded server.
type Config struct {
	// Enabled turns the bridge on.
	Enabled bool `yaml:"enabled"`

	// Embedded runs an in-process NATS server instead of dialing out.
	Embedded bool `yaml:"embedded"`

	// Port is the listen port of the embedded server. Ignored otherwise.
	Port int `yaml:"port"`

	// Servers are the NATS URLs to dial. Defaults to the embedded server's
	// URL when Embedded is set.
	Servers []string `yaml:"servers"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`

	// ConnectTimeout bounds the initial dial.
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// Client wraps a NATS connection with the handful of helpers the bridge
// needs.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

// Connect dials the configured NATS servers.
func Connect(cfg Config, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("natsbridge: no servers configured")
	}

	timeout := time.Duration(cfg.ConnectTimeout)
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	options := []nats.Option{
		nats.Name("voximux"),
		nats.Timeout(timeout),
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("natsbridge: connect: %w", err)
	}

	log.Info("connected to NATS", "servers", url)
	return &Client{conn: conn, log: log}, nil
}

// Close drains in-flight messages and closes the connection.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	_ = c.conn.Drain()
	c.conn.Close()
}

// Healthy reports whether the connection is established.
func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

// Conn exposes the underlying connection.
func (c *Client) Conn() *nats.Conn { return c.conn }
