// Package flow implements the conversational engine of PortalAssist.
//
// This file drives the request-intake dialogue: project selection, request
// type selection, field collection, attachments, confirmation, and
// submission. A cancel token from any stage resets the conversation to idle
// and discards everything collected.
package flow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/PortalAssist/internal/models"
	"github.com/BTreeMap/PortalAssist/internal/schema"
	"github.com/BTreeMap/PortalAssist/internal/servicedesk"
)

// attachmentFieldID is the well-known field whose presence in a request
// type's schema means the type accepts attachments. It is handled by the
// attachments stage, never collected as a regular field.
const attachmentFieldID = "attachment"

var confirmTokens = map[string]bool{
	"confirm": true, "yes": true, "y": true, "submit": true, "send": true, "ok": true, "okay": true,
}

var skipTokens = map[string]bool{
	"skip": true, "no": true, "none": true, "done": true,
}

var attachTokens = map[string]bool{
	"attach": true, "upload": true,
}

func matchesToken(message string, tokens map[string]bool) bool {
	token := strings.ToLower(strings.TrimSpace(message))
	token = strings.TrimRight(token, "!.")
	return tokens[token]
}

// allowedServiceDesks returns the service desks a request may be created in:
// accessible to the user, admin-enabled, and, when the conversation is
// pinned to a project, restricted to it.
func (e *Engine) allowedServiceDesks(ctx context.Context, pinnedProjectID string) ([]models.ServiceDeskSummary, error) {
	desks, err := e.ticketing.ListServiceDesks(ctx)
	if err != nil {
		return nil, err
	}
	settings, err := e.store.GetSettings()
	if err != nil {
		return nil, err
	}
	enabled := map[string]bool{}
	if settings != nil {
		enabled = settings.EnabledProjects
	}

	var allowed []models.ServiceDeskSummary
	for _, d := range desks {
		if !enabled[d.ProjectID] {
			continue
		}
		if pinnedProjectID != "" && d.ProjectID != pinnedProjectID {
			continue
		}
		allowed = append(allowed, d)
	}
	return allowed, nil
}

// ListCreatableProjects is the non-dialogue entry point for the same
// project list the intake flow offers.
func (e *Engine) ListCreatableProjects(ctx context.Context, pc models.ProjectContext) ([]models.ServiceDeskSummary, error) {
	return e.allowedServiceDesks(ctx, e.resolver.ResolveProjectID(ctx, pc))
}

// FetchRequestTypeFields fetches and normalizes the visible required fields
// of a request type and reports whether the type accepts attachments.
func (e *Engine) FetchRequestTypeFields(ctx context.Context, serviceDeskID, requestTypeID string) ([]models.RequestTypeField, bool, error) {
	raw, err := e.ticketing.ListRequestTypeFields(ctx, serviceDeskID, requestTypeID)
	if err != nil {
		return nil, false, err
	}
	allowsAttachments := false
	var collectable []models.RawField
	for _, rf := range raw {
		if rf.FieldID == attachmentFieldID {
			allowsAttachments = true
			continue
		}
		collectable = append(collectable, rf)
	}
	var fields []models.RequestTypeField
	for _, f := range schema.NormalizeFields(collectable) {
		if f.Visible && f.Required {
			fields = append(fields, f)
		}
	}
	return fields, allowsAttachments, nil
}

// startIntake begins the request-creation dialogue. When no enabled
// projects are available the conversation stays idle with an explanation.
func (e *Engine) startIntake(ctx context.Context, st *models.IntakeState, pinnedProjectID string) string {
	desks, err := e.allowedServiceDesks(ctx, pinnedProjectID)
	if err != nil {
		slog.Warn("Engine.startIntake service desk listing failed", "error", err)
		return "I couldn't reach the ticketing system to list projects. Please try again in a moment."
	}
	if len(desks) == 0 {
		slog.Info("Engine.startIntake no enabled projects available")
		return "There are no projects enabled for creating requests right now, so I can't open one for you. Please contact your administrator."
	}

	st.Stage = models.StageSelectProject
	st.ProjectID = pinnedProjectID
	st.Projects = desks
	e.saveState(st)

	return "Let's create a support request. " + projectListPrompt(st)
}

// handleIntakeMessage advances the active dialogue by one user message.
func (e *Engine) handleIntakeMessage(ctx context.Context, st *models.IntakeState, message string) string {
	if isCancel(message) {
		st.Reset()
		e.saveState(st)
		return replyCancelled
	}

	switch st.Stage {
	case models.StageSelectProject:
		return e.handleSelectProject(ctx, st, message)
	case models.StageSelectRequestType:
		return e.handleSelectRequestType(ctx, st, message)
	case models.StageCollectFields:
		return e.handleCollectFields(ctx, st, message)
	case models.StageAttachments:
		return e.handleAttachments(ctx, st, message)
	case models.StageConfirm:
		return e.handleConfirm(ctx, st, message)
	default:
		slog.Error("Engine.handleIntakeMessage unknown stage", "stage", st.Stage, "conversationID", st.ConversationID)
		st.Reset()
		e.saveState(st)
		return replyCancelled
	}
}

func (e *Engine) handleSelectProject(ctx context.Context, st *models.IntakeState, message string) string {
	desk, ok := matchServiceDesk(st.Projects, message)
	if !ok {
		return "I didn't catch which project you meant. " + projectListPrompt(st)
	}

	types, err := e.ticketing.ListRequestTypes(ctx, desk.ID)
	if err != nil {
		slog.Warn("Engine request type listing failed", "error", err, "serviceDeskID", desk.ID)
		return "I couldn't load the request types for that project. " + projectListPrompt(st)
	}
	if len(types) == 0 {
		return fmt.Sprintf("%s has no request types I can use. Please pick another project. %s", desk.ProjectName, projectListPrompt(st))
	}

	st.SelectedProject = &desk
	st.RequestTypes = types
	st.Stage = models.StageSelectRequestType
	e.saveState(st)

	return fmt.Sprintf("Great, we'll create the request in %s. %s", desk.ProjectName, requestTypeListPrompt(st))
}

func (e *Engine) handleSelectRequestType(ctx context.Context, st *models.IntakeState, message string) string {
	rt, ok := matchRequestType(st.RequestTypes, message)
	if !ok {
		return "I didn't catch which request type you meant. " + requestTypeListPrompt(st)
	}

	fields, allowsAttachments, err := e.FetchRequestTypeFields(ctx, st.SelectedProject.ID, rt.ID)
	if err != nil {
		slog.Warn("Engine field listing failed", "error", err, "requestTypeID", rt.ID)
		return "I couldn't load the details for that request type. " + requestTypeListPrompt(st)
	}

	st.SelectedRequestType = &rt
	st.Fields = fields
	st.AllowsAttachments = allowsAttachments
	st.CurrentFieldIndex = 0
	st.Answers = make(map[string]interface{})

	return e.routeToNextStage(st, fmt.Sprintf("Got it, a %q request. ", rt.Name))
}

// routeToNextStage moves to the first applicable stage: field collection if
// any fields remain, then attachments if supported, then confirmation.
func (e *Engine) routeToNextStage(st *models.IntakeState, prefix string) string {
	if st.CurrentFieldIndex < len(st.Fields) {
		st.Stage = models.StageCollectFields
		e.saveState(st)
		return prefix + fieldPrompt(st.Fields[st.CurrentFieldIndex])
	}
	if st.AllowsAttachments {
		st.Stage = models.StageAttachments
		e.saveState(st)
		return prefix + attachmentsPrompt
	}
	st.Stage = models.StageConfirm
	e.saveState(st)
	return prefix + summaryPrompt(st)
}

func (e *Engine) handleCollectFields(ctx context.Context, st *models.IntakeState, message string) string {
	field := st.Fields[st.CurrentFieldIndex]
	answer, err := schema.ValidateAnswer(field, message)
	if err != nil {
		// Invalid answers keep the same index and re-emit the prompt.
		return fmt.Sprintf("Sorry, %s %s", err.Error(), fieldPrompt(field))
	}

	if st.Answers == nil {
		st.Answers = make(map[string]interface{})
	}
	st.Answers[field.FieldID] = answer
	st.CurrentFieldIndex++
	return e.routeToNextStage(st, "Thanks. ")
}

const attachmentsPrompt = "Would you like to add any attachments? Upload files with the attach button, " +
	"or say \"skip\" to continue without them."

func (e *Engine) handleAttachments(ctx context.Context, st *models.IntakeState, message string) string {
	if matchesToken(message, skipTokens) {
		st.Stage = models.StageConfirm
		e.saveState(st)
		return summaryPrompt(st)
	}
	if matchesToken(message, attachTokens) {
		// Uploads arrive out of band through the attachment endpoint and
		// append to the state without changing stage.
		return "Use the attach button to upload your files, then say \"done\" or \"skip\" when you're finished."
	}
	return attachmentsPrompt
}

func (e *Engine) handleConfirm(ctx context.Context, st *models.IntakeState, message string) string {
	if !matchesToken(message, confirmTokens) {
		return summaryPrompt(st)
	}
	return e.submitIntake(ctx, st)
}

// Upload is one file handed to AttachFiles.
type Upload struct {
	Name    string
	Content io.Reader
}

// AttachResult reports the outcome of one file upload.
type AttachResult struct {
	Name                  string `json:"name"`
	TemporaryAttachmentID string `json:"temporaryAttachmentId,omitempty"`
	Error                 string `json:"error,omitempty"`
}

// AttachFiles uploads files as temporary attachments for the active intake
// conversation. Failures are reported per file; successes are appended to
// the state and the stage is left unchanged.
func (e *Engine) AttachFiles(ctx context.Context, conversationID string, uploads []Upload) ([]AttachResult, error) {
	st, err := e.store.GetIntakeState(conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load intake state: %w", err)
	}
	if st == nil || !st.Active() || st.SelectedProject == nil {
		return nil, models.ErrConversationClosed
	}

	results := make([]AttachResult, 0, len(uploads))
	for _, up := range uploads {
		id, err := e.ticketing.UploadTemporaryFile(ctx, st.SelectedProject.ID, up.Name, up.Content)
		if err != nil {
			slog.Warn("Engine.AttachFiles upload failed", "error", err, "filename", up.Name)
			results = append(results, AttachResult{Name: up.Name, Error: "upload failed, please try this file again"})
			continue
		}
		st.TemporaryAttachmentIDs = append(st.TemporaryAttachmentIDs, id)
		st.AttachmentNames = append(st.AttachmentNames, up.Name)
		results = append(results, AttachResult{Name: up.Name, TemporaryAttachmentID: id})
	}
	e.saveState(st)
	return results, nil
}

// submitIntake submits the collected request. Creation is attempted with
// attachments included; on failure it retries once without them (some
// request types reject the attachment field) and re-attaches the same
// temporary files post-creation, surfacing any re-attachment failure as a
// non-fatal warning. The already-created ticket is never rolled back.
func (e *Engine) submitIntake(ctx context.Context, st *models.IntakeState) string {
	created, warning, err := e.Submit(ctx, SubmitInput{
		ServiceDeskID:          st.SelectedProject.ID,
		RequestTypeID:          st.SelectedRequestType.ID,
		Fields:                 st.Fields,
		Answers:                st.Answers,
		TemporaryAttachmentIDs: st.TemporaryAttachmentIDs,
	})
	if err != nil {
		// Stay on confirm so the user can retry or cancel.
		return fmt.Sprintf("I couldn't submit your request: %s\nSay \"confirm\" to try again, or \"cancel\" to give up.", servicedesk.ParseSubmissionError(err))
	}

	reply := fmt.Sprintf("Your request has been created as %s.", created.IssueKey)
	if created.WebLink != "" {
		reply += fmt.Sprintf(" You can follow it here: %s", created.WebLink)
	}
	if warning != "" {
		reply += "\nNote: " + warning
	}

	st.Reset()
	e.saveState(st)
	return reply
}

// SubmitInput is the payload for a request submission, from the dialogue or
// from the direct submission endpoint.
type SubmitInput struct {
	ServiceDeskID          string
	RequestTypeID          string
	Fields                 []models.RequestTypeField
	Answers                map[string]interface{}
	TemporaryAttachmentIDs []string
}

// Submit creates the request. The returned warning is non-empty when the
// ticket was created but its attachments could not all be linked.
func (e *Engine) Submit(ctx context.Context, input SubmitInput) (*models.CreatedRequest, string, error) {
	values := make(map[string]interface{}, len(input.Answers))
	for _, field := range input.Fields {
		answer, ok := input.Answers[field.FieldID]
		if !ok {
			continue
		}
		values[field.FieldID] = schema.AnswerToWire(field, answer)
	}

	create := servicedesk.CreateRequestInput{
		ServiceDeskID:          input.ServiceDeskID,
		RequestTypeID:          input.RequestTypeID,
		RequestFieldValues:     values,
		TemporaryAttachmentIDs: input.TemporaryAttachmentIDs,
	}

	created, err := e.ticketing.CreateRequest(ctx, create)
	if err == nil {
		return created, "", nil
	}
	if len(input.TemporaryAttachmentIDs) == 0 {
		return nil, "", err
	}

	slog.Warn("Engine.Submit creation with attachments failed, retrying without", "error", err)
	create.TemporaryAttachmentIDs = nil
	created, retryErr := e.ticketing.CreateRequest(ctx, create)
	if retryErr != nil {
		return nil, "", err
	}

	if attachErr := e.ticketing.AttachToIssue(ctx, created.IssueKey, input.TemporaryAttachmentIDs); attachErr != nil {
		slog.Warn("Engine.Submit post-creation attachment failed", "error", attachErr, "issueKey", created.IssueKey)
		return created, "the request was created, but I couldn't attach your files. Please add them from the portal.", nil
	}
	return created, "", nil
}

// matchServiceDesk picks a service desk by 1-based position or
// case-insensitive substring of the project name or key. First element
// satisfying either test wins.
func matchServiceDesk(desks []models.ServiceDeskSummary, input string) (models.ServiceDeskSummary, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return models.ServiceDeskSummary{}, false
	}
	if idx, err := strconv.Atoi(trimmed); err == nil && idx >= 1 && idx <= len(desks) {
		return desks[idx-1], true
	}
	lower := strings.ToLower(trimmed)
	for _, d := range desks {
		if strings.Contains(strings.ToLower(d.ProjectName), lower) ||
			(d.ProjectKey != "" && strings.Contains(strings.ToLower(d.ProjectKey), lower)) {
			return d, true
		}
	}
	return models.ServiceDeskSummary{}, false
}

// matchRequestType picks a request type by 1-based position or
// case-insensitive substring of its name.
func matchRequestType(types []models.RequestTypeSummary, input string) (models.RequestTypeSummary, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return models.RequestTypeSummary{}, false
	}
	if idx, err := strconv.Atoi(trimmed); err == nil && idx >= 1 && idx <= len(types) {
		return types[idx-1], true
	}
	lower := strings.ToLower(trimmed)
	for _, rt := range types {
		if strings.Contains(strings.ToLower(rt.Name), lower) {
			return rt, true
		}
	}
	return models.RequestTypeSummary{}, false
}

func projectListPrompt(st *models.IntakeState) string {
	var b strings.Builder
	b.WriteString("Which project should the request go to?\n")
	for i, d := range st.Projects {
		fmt.Fprintf(&b, "%d. %s", i+1, d.ProjectName)
		if d.ProjectKey != "" {
			fmt.Fprintf(&b, " (%s)", d.ProjectKey)
		}
		b.WriteString("\n")
	}
	b.WriteString("Reply with a number or a name.")
	return b.String()
}

func requestTypeListPrompt(st *models.IntakeState) string {
	var b strings.Builder
	b.WriteString("What kind of request is it?\n")
	for i, rt := range st.RequestTypes {
		fmt.Fprintf(&b, "%d. %s", i+1, rt.Name)
		if rt.Description != "" {
			fmt.Fprintf(&b, " — %s", rt.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("Reply with a number or a name.")
	return b.String()
}

// fieldPrompt asks for the current field, listing options for select types.
func fieldPrompt(field models.RequestTypeField) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Please provide: %s", field.Name)
	if field.Description != "" {
		fmt.Fprintf(&b, " (%s)", field.Description)
	}
	switch field.InputType {
	case models.InputSelect, models.InputMultiSelect:
		b.WriteString("\n")
		for i, opt := range field.ValidValues {
			fmt.Fprintf(&b, "%d. %s\n", i+1, opt.Label)
		}
		if field.InputType == models.InputMultiSelect {
			b.WriteString("Pick one or more, separated by commas.")
		} else {
			b.WriteString("Pick one by number or name.")
		}
	case models.InputNumber:
		b.WriteString("\nPlease reply with a number.")
	case models.InputDate:
		b.WriteString("\nPlease reply with a date (YYYY-MM-DD).")
	case models.InputDateTime:
		b.WriteString("\nPlease reply with a date and time.")
	}
	return b.String()
}

// summaryPrompt recaps everything collected and asks for confirmation.
func summaryPrompt(st *models.IntakeState) string {
	var b strings.Builder
	b.WriteString("Here's what I'll submit:\n")
	fmt.Fprintf(&b, "Project: %s\n", st.SelectedProject.ProjectName)
	fmt.Fprintf(&b, "Request type: %s\n", st.SelectedRequestType.Name)
	for _, field := range st.Fields {
		if answer, ok := st.Answers[field.FieldID]; ok {
			fmt.Fprintf(&b, "%s: %s\n", field.Name, answerDisplay(answer))
		}
	}
	if len(st.AttachmentNames) > 0 {
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(st.AttachmentNames, ", "))
	}
	b.WriteString("Say \"confirm\" to submit, or \"cancel\" to discard it.")
	return b.String()
}

// answerDisplay renders a stored answer for the summary.
func answerDisplay(answer interface{}) string {
	switch v := answer.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case map[string]interface{}:
		if label, ok := v["label"].(string); ok {
			return label
		}
		return fmt.Sprintf("%v", v)
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, answerDisplay(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}
