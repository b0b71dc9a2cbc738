// Package genai provides the LLM completion abstraction for PortalAssist.
//
// This file implements the Google Gemini provider.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/PortalAssist/internal/models"
	googlegenai "google.golang.org/genai"
)

// geminiCompleter generates completions through the Gemini API.
type geminiCompleter struct {
	apiKey string
	model  string
}

func newGeminiCompleter(s Settings) *geminiCompleter {
	model := s.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	return &geminiCompleter{apiKey: s.APIKey, model: model}
}

func (c *geminiCompleter) Complete(ctx context.Context, systemPrompt, userMessage string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	slog.Debug("geminiCompleter.Complete invoked", "model", c.model, "maxTokens", maxTokens)

	client, err := googlegenai.NewClient(ctx, &googlegenai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: googlegenai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create gemini client: %w", err)
	}

	config := &googlegenai.GenerateContentConfig{
		MaxOutputTokens:   int32(maxTokens),
		SystemInstruction: googlegenai.NewContentFromText(systemPrompt, googlegenai.RoleUser),
	}
	resp, err := client.Models.GenerateContent(ctx, c.model, googlegenai.Text(userMessage), config)
	if err != nil {
		slog.Warn("geminiCompleter.Complete request failed", "error", err, "model", c.model)
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", models.ErrEmptyCompletion
	}
	slog.Debug("geminiCompleter.Complete succeeded", "model", c.model, "responseLength", len(text))
	return text, nil
}
