// Package genai provides the LLM completion abstraction for PortalAssist.
//
// This file wires settings and credentials into a Completer factory the flow
// engine can consult per request, so admin changes take effect without a
// restart.
package genai

import (
	"context"

	"github.com/BTreeMap/PortalAssist/internal/models"
)

// SettingsReader is the subset of the store the source needs.
type SettingsReader interface {
	GetSettings() (*models.AssistantSettings, error)
}

// Source builds a Completer from the currently stored provider settings and
// the encrypted API key.
type Source struct {
	settings SettingsReader
	creds    *CredentialManager
}

// NewSource creates a completer source.
func NewSource(settings SettingsReader, creds *CredentialManager) *Source {
	return &Source{settings: settings, creds: creds}
}

// Completer returns a Completer for the stored configuration.
// models.ErrMissingCredential is returned when no provider or key is
// configured; callers treat that as "no LLM seasoning available".
func (s *Source) Completer(ctx context.Context) (Completer, error) {
	settings, err := s.settings.GetSettings()
	if err != nil {
		return nil, err
	}
	if settings == nil || settings.Provider == "" {
		return nil, models.ErrMissingCredential
	}
	key, err := s.creds.APIKey()
	if err != nil {
		return nil, err
	}
	return NewCompleter(Settings{
		Provider: settings.Provider,
		Model:    settings.Model,
		APIKey:   key,
	})
}
