package relay

import (
	"strings"
	"testing"
)

// ─── TestBuildInstruction_NamesAgentType ──────────────────────────────────────

func TestBuildInstruction_NamesAgentType(t *testing.T) {
	t.Parallel()

	got := BuildInstruction("customer support agent", nil)
	if !strings.Contains(got, "You are a voice customer support agent.") {
		t.Fatalf("instruction does not name the agent type:\n%s", got)
	}
}

// ─── TestBuildInstruction_DefaultAgent ────────────────────────────────────────

func TestBuildInstruction_DefaultAgent(t *testing.T) {
	t.Parallel()

	for _, agentType := range []string{"", "   "} {
		got := BuildInstruction(agentType, nil)
		if !strings.Contains(got, "You are a voice assistant.") {
			t.Fatalf("BuildInstruction(%q) missing default persona:\n%s", agentType, got)
		}
	}
}

// ─── TestBuildInstruction_NoDocs ──────────────────────────────────────────────

func TestBuildInstruction_NoDocs(t *testing.T) {
	t.Parallel()

	got := BuildInstruction("assistant", nil)
	if strings.Contains(got, "reference documents") {
		t.Fatalf("instruction mentions documents without any docs:\n%s", got)
	}
	if strings.Contains(got, "##") {
		t.Fatalf("instruction contains a document header without any docs:\n%s", got)
	}
}

// ─── TestBuildInstruction_DocsInOrder ─────────────────────────────────────────

func TestBuildInstruction_DocsInOrder(t *testing.T) {
	t.Parallel()

	docs := []ContextDoc{
		{Name: "Return Policy", Content: "Returns are accepted within 30 days."},
		{Name: "Shipping", Content: "Orders ship within 2 business days."},
		{Name: "Warranty", Content: "All products carry a 1-year warranty."},
	}
	got := BuildInstruction("support agent", docs)

	var last int
	for _, doc := range docs {
		idx := strings.Index(got, "## "+doc.Name)
		if idx < 0 {
			t.Fatalf("doc %q has no header in instruction:\n%s", doc.Name, got)
		}
		if idx < last {
			t.Fatalf("doc %q appears out of order", doc.Name)
		}
		last = idx
	}
}

// ─── TestBuildInstruction_ContentVerbatim ─────────────────────────────────────

func TestBuildInstruction_ContentVerbatim(t *testing.T) {
	t.Parallel()

	// Content with markup-looking text must survive untouched.
	content := "Line one.\n  Indented line.\n## Not a header, part of the doc.\n* bullet"
	got := BuildInstruction("assistant", []ContextDoc{{Name: "Notes", Content: content}})

	if !strings.Contains(got, content) {
		t.Fatalf("doc content not embedded verbatim:\n%s", got)
	}
}

// ─── TestBuildInstruction_DocsDistinguishable ─────────────────────────────────

func TestBuildInstruction_DocsDistinguishable(t *testing.T) {
	t.Parallel()

	docs := []ContextDoc{
		{Name: "First", Content: "alpha"},
		{Name: "Second", Content: "beta"},
	}
	got := BuildInstruction("assistant", docs)

	// Each document sits under its own header, so content can be attributed.
	first := strings.Index(got, "## First\nalpha")
	second := strings.Index(got, "## Second\nbeta")
	if first < 0 || second < 0 {
		t.Fatalf("docs not attributable to their headers:\n%s", got)
	}
	if second < first {
		t.Fatal("second doc rendered before first")
	}
}

// ─── TestBuildInstruction_UntitledDoc ─────────────────────────────────────────

func TestBuildInstruction_UntitledDoc(t *testing.T) {
	t.Parallel()

	got := BuildInstruction("assistant", []ContextDoc{{Name: "  ", Content: "body"}})
	if !strings.Contains(got, "## untitled\nbody") {
		t.Fatalf("blank doc name not replaced with placeholder:\n%s", got)
	}
}

// ─── TestBuildInstruction_Deterministic ───────────────────────────────────────

func TestBuildInstruction_Deterministic(t *testing.T) {
	t.Parallel()

	docs := []ContextDoc{
		{Name: "A", Content: "one"},
		{Name: "B", Content: "two"},
	}
	a := BuildInstruction("guide", docs)
	b := BuildInstruction("guide", docs)
	if a != b {
		t.Fatal("same inputs produced different instructions")
	}
}
