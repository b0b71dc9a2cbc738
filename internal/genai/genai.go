// Package genai provides the LLM completion abstraction for PortalAssist.
//
// Two providers are supported behind one Completer contract: OpenAI and
// Google Gemini. Completion is optional seasoning for reply composition;
// every caller must keep a deterministic fallback ready, so all failure
// modes collapse to an error the caller can swallow.
package genai

import (
	"context"

	"github.com/BTreeMap/PortalAssist/internal/models"
)

// DefaultMaxTokens bounds completions when the caller passes no limit.
const DefaultMaxTokens = 500

// Default model identifiers used when the admin saved no model.
const (
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultGeminiModel = "gemini-2.0-flash"
)

// Completer generates a free-text completion from a system prompt and a
// user message, bounded by maxTokens.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userMessage string, maxTokens int) (string, error)
}

// Settings selects and configures a provider. Provider and Model come from
// the plain settings record; APIKey comes from the secret store only.
type Settings struct {
	Provider models.LLMProvider
	Model    string
	APIKey   string
}

// NewCompleter returns the Completer for the configured provider.
func NewCompleter(s Settings) (Completer, error) {
	if s.APIKey == "" {
		return nil, models.ErrMissingCredential
	}
	switch s.Provider {
	case models.ProviderOpenAI:
		return newOpenAICompleter(s), nil
	case models.ProviderGemini:
		return newGeminiCompleter(s), nil
	default:
		return nil, models.ErrInvalidProvider
	}
}
