package chat

import (
	"strings"

	"github.com/nyayasetu/legalchat/internal/lang"
)

// ComposePrompt builds the completion request for one turn: the
// language-selected persona, the windowed history as User:/Assistant: lines,
// the labeled new query, and the same-language instruction. It is a pure
// function of its arguments; identical inputs yield an identical string.
func ComposePrompt(l lang.Language, history []Message, query string) string {
	var b strings.Builder

	b.WriteString(lang.SystemPrompt(l))
	b.WriteString("\n\n")

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range history {
			if m.Role == RoleAssistant {
				b.WriteString("Assistant: ")
			} else {
				b.WriteString("User: ")
			}
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("New question (")
	b.WriteString(l.Name())
	b.WriteString("): ")
	b.WriteString(query)
	b.WriteString("\n")
	b.WriteString("Answer in ")
	b.WriteString(l.Name())
	b.WriteString(", the same language as the question.")

	return b.String()
}
