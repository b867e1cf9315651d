package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voximux/voximux/pkg/audio"
	"github.com/voximux/voximux/pkg/live"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// DeviceSet bundles the capture and playback halves of a local audio device.
// Device factories return both so a single backend (like PortAudio) manages
// its own initialization once.
type DeviceSet struct {
	Capture  audio.CaptureDevice
	Playback audio.PlaybackDevice

	// Close releases the backend after both devices have stopped. Optional.
	Close func() error
}

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	upstream map[string]func(UpstreamConfig) (live.Provider, error)
	device   map[string]func(DeviceConfig) (DeviceSet, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		upstream: make(map[string]func(UpstreamConfig) (live.Provider, error)),
		device:   make(map[string]func(DeviceConfig) (DeviceSet, error)),
	}
}

// RegisterUpstream registers a live provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterUpstream(name string, factory func(UpstreamConfig) (live.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upstream[name] = factory
}

// RegisterDevice registers a local audio device factory under name.
func (r *Registry) RegisterDevice(name string, factory func(DeviceConfig) (DeviceSet, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.device[name] = factory
}

// CreateUpstream instantiates a live provider using the factory registered
// under cfg.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateUpstream(cfg UpstreamConfig) (live.Provider, error) {
	r.mu.RLock()
	factory, ok := r.upstream[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: upstream/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateDevice instantiates a local audio device using the factory registered
// under cfg.Name.
func (r *Registry) CreateDevice(cfg DeviceConfig) (DeviceSet, error) {
	r.mu.RLock()
	factory, ok := r.device[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return DeviceSet{}, fmt.Errorf("%w: device/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}
