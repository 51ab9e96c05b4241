// Package llm provides the Anthropic completion backends: the native
// SDK for API keys and the claude CLI subprocess for OAuth tokens, with
// automatic selection between them.
package llm

import (
	"context"

	"github.com/pkg/errors"
)

// Backend produces a single assistant completion for a user prompt.
type Backend interface {
	// CreateMessage sends prompt as the sole user message and returns the
	// assistant text.
	CreateMessage(ctx context.Context, model string, maxTokens int, prompt string) (string, error)
	// Name identifies the backend in logs and reports ("sdk" or "cli").
	Name() string
}

// ErrNoCredentials is returned when neither an API key nor a usable
// OAuth token is available.
var ErrNoCredentials = errors.New("no Anthropic credentials configured")
