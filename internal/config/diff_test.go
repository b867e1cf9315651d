package config_test

import (
	"slices"
	"testing"

	"github.com/voximux/voximux/internal/config"
	"github.com/voximux/voximux/internal/natsbridge"
	"github.com/voximux/voximux/internal/relay"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Session: relay.Config{
			AgentType: "support agent",
			Docs: []relay.ContextDoc{
				{Name: "faq", Content: "Answers."},
			},
		},
	}
	d := config.Diff(cfg, cfg)
	if d.SessionChanged {
		t.Error("expected SessionChanged=false for identical configs")
	}
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if len(d.RestartNeeded) != 0 {
		t.Errorf("expected no restart paths, got %v", d.RestartNeeded)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartNeeded) != 0 {
		t.Errorf("log level is hot-reloadable, got restart paths %v", d.RestartNeeded)
	}
}

func TestDiff_AgentTypeChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Session: relay.Config{AgentType: "support agent"}}
	new := &config.Config{Session: relay.Config{AgentType: "sales assistant"}}

	d := config.Diff(old, new)
	if !d.SessionChanged {
		t.Error("expected SessionChanged=true")
	}
	if !d.Session.AgentTypeChanged {
		t.Error("expected AgentTypeChanged=true")
	}
	if d.Session.VoiceChanged {
		t.Error("expected VoiceChanged=false")
	}
}

func TestDiff_VoiceChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Session: relay.Config{Voice: "Puck"}}
	new := &config.Config{Session: relay.Config{Voice: "Kore"}}

	d := config.Diff(old, new)
	if !d.SessionChanged || !d.Session.VoiceChanged {
		t.Error("expected VoiceChanged=true")
	}
}

func TestDiff_DocContentChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Session: relay.Config{Docs: []relay.ContextDoc{
		{Name: "faq", Content: "v1"},
	}}}
	new := &config.Config{Session: relay.Config{Docs: []relay.ContextDoc{
		{Name: "faq", Content: "v2"},
	}}}

	d := config.Diff(old, new)
	if !d.SessionChanged {
		t.Error("expected SessionChanged=true")
	}
	if len(d.Session.DocChanges) != 1 {
		t.Fatalf("expected 1 doc change, got %d", len(d.Session.DocChanges))
	}
	dc := d.Session.DocChanges[0]
	if dc.Name != "faq" || !dc.ContentChanged || dc.Added || dc.Removed {
		t.Errorf("unexpected doc diff: %+v", dc)
	}
}

func TestDiff_DocAddedAndRemoved(t *testing.T) {
	t.Parallel()
	old := &config.Config{Session: relay.Config{Docs: []relay.ContextDoc{
		{Name: "faq", Content: "x"},
		{Name: "legal", Content: "y"},
	}}}
	new := &config.Config{Session: relay.Config{Docs: []relay.ContextDoc{
		{Name: "faq", Content: "x"},
		{Name: "pricing", Content: "z"},
	}}}

	d := config.Diff(old, new)
	if !d.SessionChanged {
		t.Error("expected SessionChanged=true")
	}
	changes := make(map[string]config.DocDiff)
	for _, dc := range d.Session.DocChanges {
		changes[dc.Name] = dc
	}
	if !changes["legal"].Removed {
		t.Error("expected legal Removed=true")
	}
	if !changes["pricing"].Added {
		t.Error("expected pricing Added=true")
	}
	if _, ok := changes["faq"]; ok {
		t.Error("unchanged doc should not appear in changes")
	}
}

func TestDiff_DocsReordered(t *testing.T) {
	t.Parallel()
	old := &config.Config{Session: relay.Config{Docs: []relay.ContextDoc{
		{Name: "faq", Content: "x"},
		{Name: "legal", Content: "y"},
	}}}
	new := &config.Config{Session: relay.Config{Docs: []relay.ContextDoc{
		{Name: "legal", Content: "y"},
		{Name: "faq", Content: "x"},
	}}}

	d := config.Diff(old, new)
	if !d.SessionChanged {
		t.Error("expected SessionChanged=true: doc order shapes the instruction")
	}
	if !d.Session.DocsReordered {
		t.Error("expected DocsReordered=true")
	}
	if len(d.Session.DocChanges) != 0 {
		t.Errorf("pure reorder should produce no per-doc changes, got %v", d.Session.DocChanges)
	}
}

func TestDiff_RestartPaths(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Mode:     config.ModeServe,
		Server:   config.ServerConfig{ListenAddr: ":8080"},
		Upstream: config.UpstreamConfig{Name: "gemini", Model: "a"},
		Bus:      natsbridge.Config{Enabled: false},
	}
	new := &config.Config{
		Mode:     config.ModeServe,
		Server:   config.ServerConfig{ListenAddr: ":9090"},
		Upstream: config.UpstreamConfig{Name: "gemini", Model: "b"},
		Bus:      natsbridge.Config{Enabled: true, Embedded: true},
	}

	d := config.Diff(old, new)
	for _, want := range []string{"server.listen_addr", "upstream", "bus"} {
		if !slices.Contains(d.RestartNeeded, want) {
			t.Errorf("expected restart path %q in %v", want, d.RestartNeeded)
		}
	}
	if d.SessionChanged {
		t.Error("expected SessionChanged=false")
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Session: relay.Config{
			AgentType: "support agent",
			Docs:      []relay.ContextDoc{{Name: "a", Content: "1"}},
		},
	}
	new := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogWarn},
		Session: relay.Config{
			AgentType: "sales assistant",
			Docs:      []relay.ContextDoc{{Name: "b", Content: "2"}},
		},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.SessionChanged || !d.Session.AgentTypeChanged {
		t.Error("expected session agent type change")
	}
	changes := make(map[string]config.DocDiff)
	for _, dc := range d.Session.DocChanges {
		changes[dc.Name] = dc
	}
	if !changes["a"].Removed {
		t.Error("expected a Removed=true")
	}
	if !changes["b"].Added {
		t.Error("expected b Added=true")
	}
}
