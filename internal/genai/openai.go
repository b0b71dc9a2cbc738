// Package genai provides the LLM completion abstraction for PortalAssist.
//
// This file implements the OpenAI provider.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/PortalAssist/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openaiCompleter generates completions through the OpenAI chat API.
type openaiCompleter struct {
	client openai.Client
	model  string
}

func newOpenAICompleter(s Settings) *openaiCompleter {
	model := s.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &openaiCompleter{
		client: openai.NewClient(option.WithAPIKey(s.APIKey)),
		model:  model,
	}
}

func (c *openaiCompleter) Complete(ctx context.Context, systemPrompt, userMessage string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	slog.Debug("openaiCompleter.Complete invoked", "model", c.model, "maxTokens", maxTokens)

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userMessage),
		},
		MaxTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		slog.Warn("openaiCompleter.Complete request failed", "error", err, "model", c.model)
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", models.ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", models.ErrEmptyCompletion
	}
	slog.Debug("openaiCompleter.Complete succeeded", "model", c.model, "responseLength", len(text))
	return text, nil
}
