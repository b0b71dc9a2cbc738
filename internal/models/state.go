// Package models defines state structures for the request-intake flow.
package models

import (
	"encoding/json"
	"time"
)

// IntakeStage identifies where a conversation is in the request-intake flow.
type IntakeStage string

const (
	StageIdle              IntakeStage = "idle"
	StageSelectProject     IntakeStage = "select_project"
	StageSelectRequestType IntakeStage = "select_request_type"
	StageCollectFields     IntakeStage = "collect_fields"
	StageAttachments       IntakeStage = "attachments"
	StageConfirm           IntakeStage = "confirm"
)

// IntakeState is the complete state of one request-intake conversation.
// It is owned exclusively by its conversation session; one message is fully
// processed before the next is accepted, so no locking is needed within a
// session. Persisted between messages through the store.
type IntakeState struct {
	ConversationID         string                 `json:"conversation_id"`
	ProjectID              string                 `json:"project_id,omitempty"`
	Stage                  IntakeStage            `json:"stage"`
	Projects               []ServiceDeskSummary   `json:"projects,omitempty"`
	RequestTypes           []RequestTypeSummary   `json:"request_types,omitempty"`
	SelectedProject        *ServiceDeskSummary    `json:"selected_project,omitempty"`
	SelectedRequestType    *RequestTypeSummary    `json:"selected_request_type,omitempty"`
	AllowsAttachments      bool                   `json:"allows_attachments,omitempty"`
	Fields                 []RequestTypeField     `json:"fields,omitempty"`
	CurrentFieldIndex      int                    `json:"current_field_index,omitempty"`
	Answers                map[string]interface{} `json:"answers,omitempty"`
	TemporaryAttachmentIDs []string               `json:"temporary_attachment_ids,omitempty"`
	AttachmentNames        []string               `json:"attachment_names,omitempty"`
	CreatedAt              time.Time              `json:"created_at"`
	UpdatedAt              time.Time              `json:"updated_at"`
}

// NewIntakeState creates an idle intake state for a conversation.
func NewIntakeState(conversationID string) *IntakeState {
	now := time.Now()
	return &IntakeState{
		ConversationID: conversationID,
		Stage:          StageIdle,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Active reports whether an intake flow is in progress.
func (s *IntakeState) Active() bool {
	return s != nil && s.Stage != StageIdle && s.Stage != ""
}

// Reset returns the state to idle, discarding all collected answers.
func (s *IntakeState) Reset() {
	id, created := s.ConversationID, s.CreatedAt
	*s = IntakeState{
		ConversationID: id,
		Stage:          StageIdle,
		CreatedAt:      created,
		UpdatedAt:      time.Now(),
	}
}

// ToJSON serializes the intake state for storage.
func (s *IntakeState) ToJSON() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FromJSON deserializes an intake state from storage.
func (s *IntakeState) FromJSON(data string) error {
	return json.Unmarshal([]byte(data), s)
}
