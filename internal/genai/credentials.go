// Package genai provides the LLM completion abstraction for PortalAssist.
//
// This file handles the provider API key: it is persisted only in encrypted
// form, exposed only masked, and migrated out of any legacy plaintext
// settings record on first access.
package genai

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"filippo.io/age"
	"github.com/BTreeMap/PortalAssist/internal/store"
)

// CredentialManager reads and writes the LLM API key through the secret
// channel of the store, encrypting with an age scrypt recipient derived from
// the configured passphrase.
type CredentialManager struct {
	store      store.Store
	passphrase string
}

// NewCredentialManager creates a credential manager. The passphrase must be
// non-empty; it protects the API key at rest.
func NewCredentialManager(st store.Store, passphrase string) (*CredentialManager, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("secret passphrase not set")
	}
	return &CredentialManager{store: st, passphrase: passphrase}, nil
}

// SetAPIKey encrypts and stores the API key.
func (m *CredentialManager) SetAPIKey(key string) error {
	recipient, err := age.NewScryptRecipient(m.passphrase)
	if err != nil {
		return fmt.Errorf("failed to derive encryption recipient: %w", err)
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return fmt.Errorf("failed to start encryption: %w", err)
	}
	if _, err := io.WriteString(w, key); err != nil {
		return fmt.Errorf("failed to encrypt API key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize encryption: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	if err := m.store.SetSecret(store.SecretLLMAPIKey, encoded); err != nil {
		return fmt.Errorf("failed to store API key: %w", err)
	}
	slog.Info("CredentialManager API key updated")
	return nil
}

// APIKey decrypts and returns the stored API key, or "" when none is set.
// The cleartext never leaves this package except to the provider clients.
func (m *CredentialManager) APIKey() (string, error) {
	encoded, err := m.store.GetSecret(store.SecretLLMAPIKey)
	if err != nil {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	if encoded == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("stored API key is corrupted: %w", err)
	}
	identity, err := age.NewScryptIdentity(m.passphrase)
	if err != nil {
		return "", fmt.Errorf("failed to derive decryption identity: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt API key: %w", err)
	}
	key, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read decrypted API key: %w", err)
	}
	return string(key), nil
}

// MaskedKey returns the stored API key in masked form for display. Returns
// "" when no key is stored.
func (m *CredentialManager) MaskedKey() (string, error) {
	key, err := m.APIKey()
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", nil
	}
	return MaskKey(key), nil
}

// ClearAPIKey removes the stored API key.
func (m *CredentialManager) ClearAPIKey() error {
	return m.store.DeleteSecret(store.SecretLLMAPIKey)
}

// MigratePlaintext moves a legacy plaintext API key from the settings record
// into the secret store and strips it from the plain record. Safe to call on
// every startup; it is a no-op when no legacy key exists.
func (m *CredentialManager) MigratePlaintext() error {
	settings, err := m.store.GetSettings()
	if err != nil {
		return fmt.Errorf("failed to read settings for migration: %w", err)
	}
	if settings == nil || settings.LegacyAPIKey == "" {
		return nil
	}
	slog.Info("CredentialManager migrating legacy plaintext API key to secret store")
	if err := m.SetAPIKey(settings.LegacyAPIKey); err != nil {
		return fmt.Errorf("failed to migrate legacy API key: %w", err)
	}
	settings.LegacyAPIKey = ""
	if err := m.store.SaveSettings(*settings); err != nil {
		return fmt.Errorf("failed to strip legacy API key from settings: %w", err)
	}
	return nil
}

// MaskKey renders a key as its first four and last four characters joined by
// an ellipsis. Short keys are fully asterisk-padded so no part leaks.
func MaskKey(key string) string {
	if len(key) < 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "…" + key[len(key)-4:]
}
