package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"upstream": {"gemini", "openai"},
	"device":   {"portaudio"},
}

// apiKeyEnv maps an upstream name to the environment variable conventionally
// carrying its API key.
var apiKeyEnv = map[string]string{
	"gemini": "GEMINI_API_KEY",
	"openai": "OPENAI_API_KEY",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment
// overrides, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override selected fields
// without editing the file. A VOXIMUX_* variable wins over the file value;
// the upstream API key additionally falls back to the endpoint's own
// conventional variable.
func applyEnvOverrides(cfg *Config) {
	overrideString((*string)(&cfg.Mode), "VOXIMUX_MODE")
	overrideString(&cfg.Server.ListenAddr, "VOXIMUX_LISTEN_ADDR")
	overrideString((*string)(&cfg.Server.LogLevel), "VOXIMUX_LOG_LEVEL")

	overrideString(&cfg.Upstream.Name, "VOXIMUX_UPSTREAM_NAME")
	overrideString(&cfg.Upstream.APIKey, "VOXIMUX_UPSTREAM_API_KEY")
	overrideString(&cfg.Upstream.BaseURL, "VOXIMUX_UPSTREAM_BASE_URL")
	overrideString(&cfg.Upstream.Model, "VOXIMUX_UPSTREAM_MODEL")

	overrideStringSlice(&cfg.Bus.Servers, "VOXIMUX_BUS_SERVERS")
	overrideString(&cfg.Bus.Token, "VOXIMUX_BUS_TOKEN")

	if cfg.Upstream.APIKey == "" {
		if env, ok := apiKeyEnv[cfg.Upstream.Name]; ok {
			cfg.Upstream.APIKey = os.Getenv(env)
		}
	}
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	value, ok := os.LookupEnv(envKey)
	if !ok {
		return
	}
	var trimmed []string
	for part := range strings.SplitSeq(value, ",") {
		if s := strings.TrimSpace(part); s != "" {
			trimmed = append(trimmed, s)
		}
	}
	if len(trimmed) > 0 {
		*target = trimmed
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Mode != "" && !cfg.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("mode %q is invalid; valid values: serve, device", cfg.Mode))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	if cfg.Upstream.Name == "" {
		errs = append(errs, errors.New("upstream.name is required"))
	} else {
		validateProviderName("upstream", cfg.Upstream.Name)
	}
	if cfg.Upstream.APIKey == "" && cfg.Upstream.Name != "" {
		if env, ok := apiKeyEnv[cfg.Upstream.Name]; ok {
			slog.Warn("upstream.api_key is empty and the environment variable is unset; connects will be rejected",
				"upstream", cfg.Upstream.Name,
				"env", env,
			)
		}
	}

	if cfg.Device.Name != "" {
		validateProviderName("device", cfg.Device.Name)
	}

	for i, doc := range cfg.Session.Docs {
		if strings.TrimSpace(doc.Content) == "" {
			errs = append(errs, fmt.Errorf("session.docs[%d] (%q): content is required", i, doc.Name))
		}
	}

	if cfg.Bus.Enabled && !cfg.Bus.Embedded && len(cfg.Bus.Servers) == 0 {
		errs = append(errs, errors.New("bus.servers is required when the bus is enabled and not embedded"))
	}
	if cfg.Bus.Enabled && cfg.Mode == ModeDevice {
		errs = append(errs, errors.New("bus.enabled has no effect in device mode"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
