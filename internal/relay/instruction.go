package relay

import (
	"fmt"
	"strings"
)

// ContextDoc is one named reference document injected into the session's
// system instruction. Docs are immutable for the lifetime of a session: the
// live endpoints accept the instruction once at setup, so changing a doc
// means starting a new session.
type ContextDoc struct {
	Name    string `yaml:"name"`
	Content string `yaml:"content"`
}

// BuildInstruction renders the system instruction for a session: an opening
// line derived from agentType followed by every context document, in order,
// under its own header with the content included verbatim.
//
// The builder is pure: it performs no I/O, has no side effects, and is safe
// for concurrent use.
func BuildInstruction(agentType string, docs []ContextDoc) string {
	var sb strings.Builder

	agent := strings.TrimSpace(agentType)
	if agent == "" {
		agent = "assistant"
	}
	fmt.Fprintf(&sb, "You are a voice %s. You hear the user's speech and reply with spoken audio. Keep replies natural and concise.", agent)

	if len(docs) > 0 {
		sb.WriteString("\n\nUse the following reference documents when responding. Each document appears under its own header.")
		for _, doc := range docs {
			name := strings.TrimSpace(doc.Name)
			if name == "" {
				name = "untitled"
			}
			fmt.Fprintf(&sb, "\n\n## %s\n%s", name, doc.Content)
		}
	}

	return sb.String()
}
