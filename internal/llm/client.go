package llm

import "context"

// Client is the single capability the conversion pipeline needs from a
// language model: one prompt in, one free-form answer out. No streaming.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
