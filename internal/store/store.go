// Package store provides storage backends for PortalAssist.
//
// It persists the assistant settings record, encrypted secrets, per-requester
// rate-limit windows, and the intake flow state of each conversation. Three
// backends are provided: SQLite, PostgreSQL, and an in-memory store used by
// tests.
package store

import (
	"github.com/BTreeMap/PortalAssist/internal/models"
)

// SecretLLMAPIKey is the secret-store name under which the (encrypted) LLM
// API key is kept, decoupled from the plain settings record.
const SecretLLMAPIKey = "llm_api_key"

// Store defines the persistence operations PortalAssist depends on.
type Store interface {
	// GetSettings returns the assistant settings record, or nil if none
	// has been saved yet.
	GetSettings() (*models.AssistantSettings, error)
	// SaveSettings overwrites the assistant settings record.
	SaveSettings(s models.AssistantSettings) error

	// GetSecret returns the stored value for name, or "" when absent.
	// Values are opaque to the store; callers encrypt before SetSecret.
	GetSecret(name string) (string, error)
	// SetSecret stores value under name, overwriting any previous value.
	SetSecret(name, value string) error
	// DeleteSecret removes the secret; deleting an absent secret is not an error.
	DeleteSecret(name string) error

	// GetRateLimitWindow returns the window for a requester, or nil if none.
	GetRateLimitWindow(requesterID string) (*models.RateLimitWindow, error)
	// SaveRateLimitWindow overwrites the window for its requester.
	SaveRateLimitWindow(w models.RateLimitWindow) error

	// GetIntakeState returns the persisted intake state for a conversation,
	// or nil if the conversation has none.
	GetIntakeState(conversationID string) (*models.IntakeState, error)
	// SaveIntakeState overwrites the intake state for its conversation.
	SaveIntakeState(s models.IntakeState) error
	// DeleteIntakeState removes the intake state for a conversation.
	DeleteIntakeState(conversationID string) error

	// Close releases any resources held by the store.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN is the data source name: a file path for SQLite, a connection
	// URL for PostgreSQL.
	DSN string
}

// Option configures store creation.
type Option func(*Opts)

// WithDSN sets the data source name for the store backend.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}
