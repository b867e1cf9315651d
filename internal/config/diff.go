package config

import (
	"slices"

	"github.com/voximux/voximux/internal/relay"
)

// ConfigDiff describes what changed between two configs. Session and log
// level changes can be hot-reloaded; everything else is listed in
// RestartNeeded by its config path.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SessionChanged bool // true if agent type, voice, or any context doc changed
	Session        SessionDiff

	RestartNeeded []string // config paths whose change requires a restart
}

// SessionDiff describes how the session config changed between two configs.
type SessionDiff struct {
	AgentTypeChanged bool
	VoiceChanged     bool
	DocsReordered    bool
	DocChanges       []DocDiff
}

// DocDiff describes what changed for a single context document.
type DocDiff struct {
	Name           string
	ContentChanged bool
	Added          bool
	Removed        bool
}

// Diff compares old and new configs and returns what changed. Session
// changes apply to sessions started after the reload; running sessions keep
// the instruction they connected with.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.Session = diffSession(old.Session, new.Session)
	if d.Session.AgentTypeChanged || d.Session.VoiceChanged || d.Session.DocsReordered || len(d.Session.DocChanges) > 0 {
		d.SessionChanged = true
	}

	d.RestartNeeded = restartPaths(old, new)

	return d
}

// diffSession compares two session configs.
func diffSession(old, new relay.Config) SessionDiff {
	sd := SessionDiff{}

	if old.AgentType != new.AgentType {
		sd.AgentTypeChanged = true
	}
	if old.Voice != new.Voice {
		sd.VoiceChanged = true
	}

	// Docs are embedded in order, so a reorder changes the rendered
	// instruction even when every doc's content is untouched.
	oldNames := docNames(old.Docs)
	newNames := docNames(new.Docs)
	if !slices.Equal(oldNames, newNames) && sameNameSet(oldNames, newNames) {
		sd.DocsReordered = true
	}

	oldDocs := make(map[string]string, len(old.Docs))
	for _, doc := range old.Docs {
		oldDocs[doc.Name] = doc.Content
	}
	newDocs := make(map[string]string, len(new.Docs))
	for _, doc := range new.Docs {
		newDocs[doc.Name] = doc.Content
	}

	for _, name := range oldNames {
		content, exists := newDocs[name]
		if !exists {
			sd.DocChanges = append(sd.DocChanges, DocDiff{Name: name, Removed: true})
			continue
		}
		if content != oldDocs[name] {
			sd.DocChanges = append(sd.DocChanges, DocDiff{Name: name, ContentChanged: true})
		}
	}
	for _, name := range newNames {
		if _, exists := oldDocs[name]; !exists {
			sd.DocChanges = append(sd.DocChanges, DocDiff{Name: name, Added: true})
		}
	}

	return sd
}

// restartPaths lists the config paths whose values differ and cannot be
// applied without restarting the process.
func restartPaths(old, new *Config) []string {
	var paths []string

	if old.Mode != new.Mode {
		paths = append(paths, "mode")
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		paths = append(paths, "server.listen_addr")
	}
	if !tlsEqual(old.Server.TLS, new.Server.TLS) {
		paths = append(paths, "server.tls")
	}
	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		paths = append(paths, "server.allowed_origins")
	}
	if old.Upstream != new.Upstream {
		paths = append(paths, "upstream")
	}
	if old.Bus.Enabled != new.Bus.Enabled || old.Bus.Embedded != new.Bus.Embedded ||
		old.Bus.Port != new.Bus.Port || !slices.Equal(old.Bus.Servers, new.Bus.Servers) ||
		old.Bus.Username != new.Bus.Username || old.Bus.Password != new.Bus.Password ||
		old.Bus.Token != new.Bus.Token || old.Bus.ConnectTimeout != new.Bus.ConnectTimeout {
		paths = append(paths, "bus")
	}
	if old.Device != new.Device {
		paths = append(paths, "device")
	}

	return paths
}

func tlsEqual(old, new *TLSConfig) bool {
	if old == nil || new == nil {
		return old == new
	}
	return *old == *new
}

func docNames(docs []relay.ContextDoc) []string {
	names := make([]string, len(docs))
	for i, doc := range docs {
		names[i] = doc.Name
	}
	return names
}

func sameNameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, name := range a {
		seen[name]++
	}
	for _, name := range b {
		seen[name]--
		if seen[name] < 0 {
			return false
		}
	}
	return true
}
