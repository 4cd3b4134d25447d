// Package llm implements the language-model client contract (spec §4.4):
// a single Complete(ctx, prompt) method with a deterministic mock variant
// and a retrying real-provider variant. It is grounded on the dashboard's
// notification-retry pattern (internal/notifications/external in the
// teacher), which POSTed webhook payloads with exponential backoff; here
// the same retry shape wraps a completions POST instead of a webhook.
package llm

import (
	"context"
)

// Client completes a prompt against a language model.
type Client interface {
	// Complete synchronously returns the model's response text for prompt.
	// Implementations must be safe for concurrent use.
	Complete(ctx context.Context, prompt string) (string, error)
}

// Kind hints the mock client at what shape of response a prompt expects,
// since spec.md §4.4 requires the mock to vary its stub "by prompt kind."
type Kind string

const (
	KindArchitecture Kind = "architecture"
	KindCode         Kind = "code"
	KindTest         Kind = "test"
	KindQuality      Kind = "quality"
)
