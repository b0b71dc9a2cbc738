// Package flow implements the conversational engine of PortalAssist: the
// free-form ticket lookup path and the multi-step request-intake dialogue.
//
// One user message is fully processed before the next is accepted for the
// same conversation; the intake state is owned exclusively by its
// conversation and persisted through the store between messages. No error
// escapes the engine without an actionable reply for the user.
package flow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PortalAssist/internal/access"
	"github.com/BTreeMap/PortalAssist/internal/genai"
	"github.com/BTreeMap/PortalAssist/internal/models"
	"github.com/BTreeMap/PortalAssist/internal/nlu"
	"github.com/BTreeMap/PortalAssist/internal/ratelimit"
	"github.com/BTreeMap/PortalAssist/internal/servicedesk"
)

// Ticketing is the subset of the servicedesk client the engine needs.
type Ticketing interface {
	ListServiceDesks(ctx context.Context) ([]models.ServiceDeskSummary, error)
	ListRequestTypes(ctx context.Context, serviceDeskID string) ([]models.RequestTypeSummary, error)
	ListRequestTypeFields(ctx context.Context, serviceDeskID, requestTypeID string) ([]models.RawField, error)
	Issue(ctx context.Context, key string, fields []string) (*models.Issue, error)
	CreateRequest(ctx context.Context, input servicedesk.CreateRequestInput) (*models.CreatedRequest, error)
	UploadTemporaryFile(ctx context.Context, serviceDeskID, filename string, r io.Reader) (string, error)
	AttachToIssue(ctx context.Context, issueKeyOrID string, temporaryAttachmentIDs []string) error
}

// CompleterSource yields the currently configured LLM completer, or an error
// when none is configured. The engine treats the completer as optional
// seasoning; every path has a deterministic fallback.
type CompleterSource interface {
	Completer(ctx context.Context) (genai.Completer, error)
}

// StateStore is the subset of the store the engine needs for intake state.
type StateStore interface {
	GetSettings() (*models.AssistantSettings, error)
	GetIntakeState(conversationID string) (*models.IntakeState, error)
	SaveIntakeState(s models.IntakeState) error
	DeleteIntakeState(conversationID string) error
}

// Dependencies holds everything the engine is constructed with. All
// collaborators are injected; the engine reaches no ambient state.
type Dependencies struct {
	Store     StateStore
	Policy    *access.Policy
	Resolver  *access.Resolver
	Limiter   *ratelimit.Limiter
	Ticketing Ticketing
	Completer CompleterSource
}

// Engine drives both conversation paths.
type Engine struct {
	store     StateStore
	policy    *access.Policy
	resolver  *access.Resolver
	limiter   *ratelimit.Limiter
	ticketing Ticketing
	completer CompleterSource
}

// NewEngine creates the conversational engine.
func NewEngine(deps Dependencies) *Engine {
	return &Engine{
		store:     deps.Store,
		policy:    deps.Policy,
		resolver:  deps.Resolver,
		limiter:   deps.Limiter,
		ticketing: deps.Ticketing,
		completer: deps.Completer,
	}
}

// Reply texts that do not depend on dialogue state.
const (
	replyDisabled = "The help-desk assistant is not available right now."
	replyHelp     = "Hello! I can look up your tickets if you give me a key like ABC-123, " +
		"or walk you through creating a new support request. Just say \"create a request\" to get started."
	replyAskForKey = "I couldn't find a ticket key in your message. " +
		"Please include one, for example ABC-123, or say \"create a request\" to open a new one."
	replyCancelled = "Okay, I've cancelled that request. Nothing was submitted."
)

var cancelTokens = map[string]bool{
	"cancel": true, "stop": true, "quit": true, "abort": true,
	"nevermind": true, "never mind": true,
}

func isCancel(message string) bool {
	token := strings.ToLower(strings.TrimSpace(message))
	token = strings.TrimRight(token, "!.")
	return cancelTokens[token]
}

// ProcessMessage handles one user message end to end: availability gate,
// rate limiting, then either the active intake dialogue, intake kickoff on
// create intent, or the lookup path. The returned string is always a
// user-facing reply; errors never escape without one.
func (e *Engine) ProcessMessage(ctx context.Context, conversationID, accountID, message string, pc models.ProjectContext) string {
	slog.Debug("Engine.ProcessMessage invoked", "conversationID", conversationID, "messageLength", len(message))

	decision := e.policy.Check(ctx, pc)
	if !decision.Enabled {
		slog.Info("Engine.ProcessMessage blocked by availability policy", "reason", decision.Reason)
		return replyDisabled
	}

	requesterID := e.limiter.RequesterID(accountID, conversationID)
	if admit := e.limiter.Admit(ctx, requesterID); !admit.Allowed {
		return fmt.Sprintf("You're sending messages a little too quickly. Please try again in %d seconds.", admit.RetryAfterSeconds)
	}

	st, err := e.store.GetIntakeState(conversationID)
	if err != nil {
		slog.Error("Engine.ProcessMessage failed to load intake state", "error", err, "conversationID", conversationID)
		st = nil // degrade to a stateless lookup rather than failing the message
	}
	if st == nil {
		st = models.NewIntakeState(conversationID)
	}

	if st.Active() {
		return e.handleIntakeMessage(ctx, st, message)
	}

	if nlu.DetectCreateIntent(message) && len(nlu.ExtractIssueKeys(message)) == 0 {
		return e.startIntake(ctx, st, decision.ProjectID)
	}

	return e.lookupReply(ctx, message)
}

// saveState persists the intake state, logging rather than failing the
// conversation when storage is unavailable.
func (e *Engine) saveState(st *models.IntakeState) {
	st.UpdatedAt = time.Now()
	if err := e.store.SaveIntakeState(*st); err != nil {
		slog.Error("Engine failed to save intake state", "error", err, "conversationID", st.ConversationID, "stage", st.Stage)
	}
}
