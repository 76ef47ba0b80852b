package ai

import "context"

// Provider is the completion service: one composed prompt in, one reply out.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// StreamProvider is an optional interface. Providers may implement streaming
// completions.
type StreamProvider interface {
	StreamComplete(ctx context.Context, prompt string) (<-chan string, <-chan error)
}
