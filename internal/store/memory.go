// Package store provides storage backends for PortalAssist.
//
// This file implements an in-memory store used by tests and by deployments
// that do not need persistence across restarts.
package store

import (
	"sync"

	"github.com/BTreeMap/PortalAssist/internal/models"
)

// InMemoryStore is a mutex-guarded map-backed Store implementation.
type InMemoryStore struct {
	mu           sync.Mutex
	settings     *models.AssistantSettings
	secrets      map[string]string
	windows      map[string]models.RateLimitWindow
	intakeStates map[string]models.IntakeState
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		secrets:      make(map[string]string),
		windows:      make(map[string]models.RateLimitWindow),
		intakeStates: make(map[string]models.IntakeState),
	}
}

func (s *InMemoryStore) GetSettings() (*models.AssistantSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return nil, nil
	}
	cp := *s.settings
	return &cp, nil
}

func (s *InMemoryStore) SaveSettings(settings models.AssistantSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &settings
	return nil
}

func (s *InMemoryStore) GetSecret(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secrets[name], nil
}

func (s *InMemoryStore) SetSecret(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
	return nil
}

func (s *InMemoryStore) DeleteSecret(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, name)
	return nil
}

func (s *InMemoryStore) GetRateLimitWindow(requesterID string) (*models.RateLimitWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[requesterID]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (s *InMemoryStore) SaveRateLimitWindow(w models.RateLimitWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[w.RequesterID] = w
	return nil
}

func (s *InMemoryStore) GetIntakeState(conversationID string) (*models.IntakeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.intakeStates[conversationID]
	if !ok {
		return nil, nil
	}
	cp := st
	return &cp, nil
}

func (s *InMemoryStore) SaveIntakeState(st models.IntakeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intakeStates[st.ConversationID] = st
	return nil
}

func (s *InMemoryStore) DeleteIntakeState(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.intakeStates, conversationID)
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
