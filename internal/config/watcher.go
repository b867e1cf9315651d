package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a config file and reports edits through a callback. Only
// edits that parse and validate are reported; a broken edit keeps the
// previous config current until the file is fixed.
type Watcher struct {
	path     string
	interval time.Duration
	notify   func(old, new *Config)

	mu   sync.Mutex
	last snapshot

	quit chan struct{}
	once sync.Once
}

// snapshot is one successfully loaded state of the watched file.
type snapshot struct {
	cfg   *Config
	hash  [sha256.Size]byte
	mtime time.Time
}

// defaultPollInterval is how often the watched file is polled unless
// [WithInterval] says otherwise.
const defaultPollInterval = 5 * time.Second

// WatcherOption adjusts a [Watcher] at construction.
type WatcherOption func(*Watcher)

// WithInterval overrides the poll interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and starts polling it for edits in a
// background goroutine. The callback runs on the polling goroutine.
func NewWatcher(path string, notify func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultPollInterval,
		notify:   notify,
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.last = snap

	go w.run()
	return w, nil
}

// Current returns the last successfully loaded config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.cfg
}

// Stop ends polling. Safe to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.quit) })
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.quit:
			return
		case <-ticker.C:
			w.rescan()
		}
	}
}

// rescan reloads the file when its mtime moved and fires the callback when
// the content hash changed and the new content is valid.
func (w *Watcher) rescan() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.last.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	snap, err := w.load()
	if err != nil {
		slog.Warn("config watcher: reload failed, keeping last good config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if snap.hash == w.last.hash {
		// Touched but identical content. Record the mtime so the next
		// poll skips the read.
		w.last.mtime = snap.mtime
		w.mu.Unlock()
		return
	}
	old := w.last.cfg
	w.last = snap
	w.mu.Unlock()

	slog.Info("config watcher: config reloaded", "path", w.path)

	// The callback runs outside the lock so it can call Current.
	if w.notify != nil {
		w.notify(old, snap.cfg)
	}
}

// load reads, parses, and validates the watched file, capturing the content
// hash and mtime for change detection. Stat happens before the read so an
// edit that lands mid-read leaves a stale mtime and the next poll rereads.
func (w *Watcher) load() (snapshot, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return snapshot{}, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}

	return snapshot{cfg: cfg, hash: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
