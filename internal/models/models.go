// Package models defines the core data structures for PortalAssist.
//
// It includes the project context and availability types, the normalized
// request-type field shapes shared between the schema and flow modules, and
// the API response envelope used by all HTTP handlers.
package models

import (
	"errors"
	"time"
)

// LLMProvider identifies which chat-completion backend the assistant uses.
type LLMProvider string

const (
	// ProviderOpenAI uses the OpenAI chat completions API.
	ProviderOpenAI LLMProvider = "openai"
	// ProviderGemini uses the Google Gemini API.
	ProviderGemini LLMProvider = "gemini"
)

// IsValidProvider checks if the given provider is supported.
func IsValidProvider(p LLMProvider) bool {
	switch p {
	case ProviderOpenAI, ProviderGemini:
		return true
	default:
		return false
	}
}

// Error variables for better error handling and testability
var (
	ErrRateLimited        = errors.New("too many requests")
	ErrAssistantDisabled  = errors.New("assistant is disabled")
	ErrMissingCredential  = errors.New("LLM API key is not configured")
	ErrInvalidProvider    = errors.New("unsupported LLM provider")
	ErrNoServiceDesks     = errors.New("no service desks available for request creation")
	ErrConversationClosed = errors.New("conversation has no active intake flow")
	ErrEmptyCompletion    = errors.New("LLM returned an empty completion")
)

// ProjectContext carries the (possibly partial) page context the portal
// widget sends with every request. All fields are optional; the access
// resolver reduces them to a single canonical project id.
type ProjectContext struct {
	ProjectID  string `json:"projectId,omitempty"`
	ProjectKey string `json:"projectKey,omitempty"`
	PortalID   string `json:"portalId,omitempty"`
	AccountID  string `json:"accountId,omitempty"`
}

// AvailabilityReason explains why the assistant is or is not available.
type AvailabilityReason string

const (
	ReasonDisabledByAdmin         AvailabilityReason = "disabled_by_admin"
	ReasonDisabledForProject      AvailabilityReason = "disabled_for_project"
	ReasonMissingProjectContext   AvailabilityReason = "missing_project_context"
	ReasonAvailabilityCheckFailed AvailabilityReason = "availability_check_failed"
)

// AvailabilityDecision is the result of the availability policy check.
// Computed fresh per request; never persisted.
type AvailabilityDecision struct {
	Enabled   bool               `json:"enabled"`
	Reason    AvailabilityReason `json:"reason,omitempty"`
	ProjectID string             `json:"projectId,omitempty"`
}

// AssistantSettings is the non-secret configuration record maintained by the
// admin screen. ChatbotEnabled is tri-state: nil means the admin never set it
// and the assistant defaults to enabled.
type AssistantSettings struct {
	ChatbotEnabled  *bool           `json:"chatbotEnabled,omitempty"`
	EnabledProjects map[string]bool `json:"enabledProjects,omitempty"`
	Provider        LLMProvider     `json:"provider,omitempty"`
	Model           string          `json:"model,omitempty"`
	// LegacyAPIKey holds a plaintext key written by old versions. It is
	// migrated into the secret store on first read and cleared.
	LegacyAPIKey string `json:"apiKey,omitempty"`
}

// RateLimitWindow is the per-requester fixed-window counter state.
type RateLimitWindow struct {
	RequesterID string    `json:"requesterId"`
	WindowStart time.Time `json:"windowStart"`
	Count       int       `json:"count"`
}

// InputType classifies how a request-type field should be collected and
// validated. It is a pure function of the raw field schema (see the schema
// package).
type InputType string

const (
	InputText        InputType = "text"
	InputTextarea    InputType = "textarea"
	InputNumber      InputType = "number"
	InputDate        InputType = "date"
	InputDateTime    InputType = "datetime"
	InputSelect      InputType = "select"
	InputMultiSelect InputType = "multi_select"
)

// FieldOption is one selectable value of a select/multi-select field.
type FieldOption struct {
	Label     string `json:"label"`
	ID        string `json:"id,omitempty"`
	Value     string `json:"value,omitempty"`
	AccountID string `json:"accountId,omitempty"`
}

// FieldSchema mirrors the ticketing system's field schema descriptor.
type FieldSchema struct {
	Type   string `json:"type,omitempty"`
	System string `json:"system,omitempty"`
	Custom string `json:"custom,omitempty"`
	Items  string `json:"items,omitempty"`
}

// RawField is a field definition exactly as the ticketing system reports it
// for a request type, before normalization.
type RawField struct {
	FieldID     string           `json:"fieldId"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Required    bool             `json:"required"`
	Visible     bool             `json:"visible"`
	ValidValues []RawFieldOption `json:"validValues,omitempty"`
	Schema      FieldSchema      `json:"jiraSchema"`
}

// RawFieldOption is an unnormalized valid value of a raw field.
type RawFieldOption struct {
	Label     string `json:"label,omitempty"`
	Name      string `json:"name,omitempty"`
	Value     string `json:"value,omitempty"`
	ID        string `json:"id,omitempty"`
	AccountID string `json:"accountId,omitempty"`
}

// RequestTypeField is the normalized, UI-and-validation-friendly form of a
// RawField produced by the schema package.
type RequestTypeField struct {
	FieldID     string        `json:"fieldId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Required    bool          `json:"required"`
	Visible     bool          `json:"visible"`
	InputType   InputType     `json:"inputType"`
	ValidValues []FieldOption `json:"validValues,omitempty"`
	Schema      FieldSchema   `json:"schema"`
}

// ServiceDeskSummary is the portable projection of a service desk the flow
// and API modules work with.
type ServiceDeskSummary struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	ProjectKey  string `json:"projectKey,omitempty"`
	ProjectName string `json:"projectName"`
}

// RequestTypeSummary is the portable projection of a request type.
type RequestTypeSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Issue is the projection of a ticket used to compose lookup replies.
type Issue struct {
	Key      string `json:"key"`
	Summary  string `json:"summary,omitempty"`
	Status   string `json:"status,omitempty"`
	Assignee string `json:"assignee,omitempty"`
	Reporter string `json:"reporter,omitempty"`
}

// CreatedRequest is the outcome of a successful request submission.
type CreatedRequest struct {
	IssueKey string `json:"issueKey"`
	IssueID  string `json:"issueId"`
	WebLink  string `json:"webLink,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse is the uniform envelope returned by every HTTP handler.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
