package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/nyayasetu/legalchat/internal/ai"
)

const titleMaxLen = 80

// GenerateTitle asks the completion service for a few-word label derived
// from the session's first query. Callers treat a failure as non-fatal and
// keep DefaultTitle; the turn itself is never aborted over a title.
func GenerateTitle(ctx context.Context, provider ai.Provider, query string) (string, error) {
	prompt := "Give a short title of at most five words for a conversation that starts " +
		"with the question below. Reply with the title only, no quotes.\n\nQuestion: " + query

	raw, err := provider.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}

	title := strings.TrimSpace(raw)
	title = strings.Trim(title, "\"'")
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	if title == "" {
		return "", errors.New("empty title")
	}
	if len(title) > titleMaxLen {
		title = title[:titleMaxLen]
	}
	return title, nil
}
