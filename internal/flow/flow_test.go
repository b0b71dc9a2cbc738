package flow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/BTreeMap/PortalAssist/internal/access"
	"github.com/BTreeMap/PortalAssist/internal/genai"
	"github.com/BTreeMap/PortalAssist/internal/models"
	"github.com/BTreeMap/PortalAssist/internal/ratelimit"
	"github.com/BTreeMap/PortalAssist/internal/servicedesk"
	"github.com/BTreeMap/PortalAssist/internal/store"
)

type fakeTicketing struct {
	desks        []models.ServiceDeskSummary
	requestTypes map[string][]models.RequestTypeSummary
	fields       map[string][]models.RawField
	issues       map[string]*models.Issue

	created  []servicedesk.CreateRequestInput
	attached map[string][]string

	failUploads               map[string]bool
	rejectAttachmentsOnCreate bool
	createErr                 error
	attachErr                 error
	uploadSeq                 int
}

func newFakeTicketing() *fakeTicketing {
	return &fakeTicketing{
		requestTypes: make(map[string][]models.RequestTypeSummary),
		fields:       make(map[string][]models.RawField),
		issues:       make(map[string]*models.Issue),
		attached:     make(map[string][]string),
		failUploads:  make(map[string]bool),
	}
}

func (f *fakeTicketing) ListServiceDesks(ctx context.Context) ([]models.ServiceDeskSummary, error) {
	return f.desks, nil
}

func (f *fakeTicketing) ListRequestTypes(ctx context.Context, serviceDeskID string) ([]models.RequestTypeSummary, error) {
	return f.requestTypes[serviceDeskID], nil
}

func (f *fakeTicketing) ListRequestTypeFields(ctx context.Context, serviceDeskID, requestTypeID string) ([]models.RawField, error) {
	return f.fields[serviceDeskID+"|"+requestTypeID], nil
}

func (f *fakeTicketing) Issue(ctx context.Context, key string, fields []string) (*models.Issue, error) {
	issue, ok := f.issues[key]
	if !ok {
		return nil, &servicedesk.StatusError{StatusCode: http.StatusNotFound, Body: "no issue"}
	}
	return issue, nil
}

func (f *fakeTicketing) CreateRequest(ctx context.Context, input servicedesk.CreateRequestInput) (*models.CreatedRequest, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.rejectAttachmentsOnCreate && len(input.TemporaryAttachmentIDs) > 0 {
		return nil, &servicedesk.StatusError{StatusCode: http.StatusBadRequest, Body: "attachments not allowed"}
	}
	f.created = append(f.created, input)
	return &models.CreatedRequest{IssueKey: "TJ-100", IssueID: "90001", WebLink: "https://example.test/portal/TJ-100"}, nil
}

func (f *fakeTicketing) UploadTemporaryFile(ctx context.Context, serviceDeskID, filename string, r io.Reader) (string, error) {
	if f.failUploads[filename] {
		return "", errors.New("upload rejected")
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	f.uploadSeq++
	return fmt.Sprintf("tmp-%d", f.uploadSeq), nil
}

func (f *fakeTicketing) AttachToIssue(ctx context.Context, issueKeyOrID string, ids []string) error {
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attached[issueKeyOrID] = append(f.attached[issueKeyOrID], ids...)
	return nil
}

func (f *fakeTicketing) ServiceDeskByPortalID(ctx context.Context, portalID string) (*models.ServiceDeskSummary, error) {
	for i := range f.desks {
		if f.desks[i].ID == portalID {
			return &f.desks[i], nil
		}
	}
	return nil, nil
}

func (f *fakeTicketing) ProjectByKey(ctx context.Context, key string) (string, error) {
	for _, d := range f.desks {
		if d.ProjectKey == key {
			return d.ProjectID, nil
		}
	}
	return "", nil
}

type fakeCompleter struct {
	text string
	err  error
}

func (f fakeCompleter) Complete(ctx context.Context, systemPrompt, userMessage string, maxTokens int) (string, error) {
	return f.text, f.err
}

type fakeCompleterSource struct {
	completer genai.Completer
	err       error
}

func (f fakeCompleterSource) Completer(ctx context.Context) (genai.Completer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.completer, nil
}

// newTestEngine builds an engine over an in-memory store with settings
// enabling project 10000 and one service desk with one request type.
func newTestEngine(t *testing.T) (*Engine, *store.InMemoryStore, *fakeTicketing) {
	t.Helper()
	st := store.NewInMemoryStore()
	enabled := true
	if err := st.SaveSettings(models.AssistantSettings{
		ChatbotEnabled:  &enabled,
		EnabledProjects: map[string]bool{"10000": true},
	}); err != nil {
		t.Fatalf("failed to seed settings: %v", err)
	}

	ticketing := newFakeTicketing()
	ticketing.desks = []models.ServiceDeskSummary{
		{ID: "1", ProjectID: "10000", ProjectKey: "HELP", ProjectName: "Help Desk"},
	}
	ticketing.requestTypes["1"] = []models.RequestTypeSummary{
		{ID: "25", Name: "Report a problem"},
	}
	ticketing.fields["1|25"] = []models.RawField{
		{FieldID: "summary", Name: "Summary", Required: true, Visible: true, Schema: models.FieldSchema{Type: "string"}},
		{
			FieldID: "priority", Name: "Priority", Required: true, Visible: true,
			ValidValues: []models.RawFieldOption{{Label: "High", ID: "1"}, {Label: "Low", ID: "3"}},
			Schema:      models.FieldSchema{Type: "priority"},
		},
	}

	resolver := access.NewResolver(ticketing)
	engine := NewEngine(Dependencies{
		Store:     st,
		Policy:    access.NewPolicy(st, resolver),
		Resolver:  resolver,
		Limiter:   ratelimit.NewLimiter(st),
		Ticketing: ticketing,
		Completer: fakeCompleterSource{err: models.ErrMissingCredential},
	})
	return engine, st, ticketing
}

func enabledContext() models.ProjectContext {
	return models.ProjectContext{ProjectID: "10000"}
}

func TestProcessMessageDisabledByAdmin(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	disabled := false
	st.SaveSettings(models.AssistantSettings{ChatbotEnabled: &disabled})

	reply := engine.ProcessMessage(context.Background(), "c1", "", "hello", enabledContext())
	if reply != replyDisabled {
		t.Errorf("reply = %q, want %q", reply, replyDisabled)
	}
}

func TestProcessMessageGreeting(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	reply := engine.ProcessMessage(context.Background(), "c1", "", "hello!", enabledContext())
	if reply != replyHelp {
		t.Errorf("reply = %q, want help text", reply)
	}
}

func TestProcessMessageNoKeyAsksForOne(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	reply := engine.ProcessMessage(context.Background(), "c1", "", "my printer is broken", enabledContext())
	if reply != replyAskForKey {
		t.Errorf("reply = %q, want ask-for-key text", reply)
	}
}

func TestProcessMessageRateLimited(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	engine.limiter = ratelimit.NewLimiter(store.NewInMemoryStore(), ratelimit.WithMaxRequests(1))

	engine.ProcessMessage(context.Background(), "c1", "acct-1", "hello", enabledContext())
	reply := engine.ProcessMessage(context.Background(), "c1", "acct-1", "hello", enabledContext())
	if !strings.Contains(reply, "too quickly") {
		t.Errorf("expected rate limit reply, got %q", reply)
	}
}

func TestLookupStatus(t *testing.T) {
	engine, _, ticketing := newTestEngine(t)
	ticketing.issues["TJ-1"] = &models.Issue{Key: "TJ-1", Summary: "Printer on fire", Status: "In Progress"}

	reply := engine.ProcessMessage(context.Background(), "c1", "", "What is the status of TJ-1?", enabledContext())
	want := "TJ-1 (Printer on fire) is currently In Progress."
	if reply != want {
		t.Errorf("reply = %q, want %q", reply, want)
	}
}

func TestLookupIntents(t *testing.T) {
	engine, _, ticketing := newTestEngine(t)
	ticketing.issues["TJ-1"] = &models.Issue{Key: "TJ-1", Status: "Open", Assignee: "Sam", Reporter: "Alex"}

	tests := []struct {
		message string
		want    string
	}{
		{"who is the assignee of TJ-1", "TJ-1 is assigned to Sam."},
		{"who reported TJ-1", "TJ-1 was raised by Alex."},
		{"who reported TJ-1 and who is assigned", "TJ-1 is assigned to Sam and was raised by Alex. Status: Open."},
	}
	for _, tt := range tests {
		if got := engine.ProcessMessage(context.Background(), "c1", "", tt.message, enabledContext()); got != tt.want {
			t.Errorf("ProcessMessage(%q) = %q, want %q", tt.message, got, tt.want)
		}
	}
}

func TestLookupUnassignedDefaults(t *testing.T) {
	engine, _, ticketing := newTestEngine(t)
	ticketing.issues["TJ-2"] = &models.Issue{Key: "TJ-2", Status: "Open"}

	reply := engine.ProcessMessage(context.Background(), "c1", "", "who is working on TJ-2", enabledContext())
	want := "TJ-2 is assigned to nobody yet."
	if reply != want {
		t.Errorf("reply = %q, want %q", reply, want)
	}
}

func TestLookupMultipleKeysWithOneMissing(t *testing.T) {
	engine, _, ticketing := newTestEngine(t)
	ticketing.issues["TJ-1"] = &models.Issue{Key: "TJ-1", Status: "Open"}

	reply := engine.ProcessMessage(context.Background(), "c1", "", "status of TJ-1 and TJ-404", enabledContext())
	lines := strings.Split(reply, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), reply)
	}
	if !strings.HasPrefix(lines[0], "TJ-1") {
		t.Errorf("line order not preserved: %q", lines[0])
	}
	if !strings.Contains(lines[1], "couldn't find") {
		t.Errorf("expected not-found line for TJ-404, got %q", lines[1])
	}
}

func TestLookupRephraseUsed(t *testing.T) {
	engine, _, ticketing := newTestEngine(t)
	ticketing.issues["TJ-1"] = &models.Issue{Key: "TJ-1", Status: "Open"}
	engine.completer = fakeCompleterSource{completer: fakeCompleter{text: "rephrased reply"}}

	reply := engine.ProcessMessage(context.Background(), "c1", "", "status of TJ-1", enabledContext())
	if reply != "rephrased reply" {
		t.Errorf("reply = %q, want rephrased text", reply)
	}
}

func TestLookupRephraseFailureFallsBack(t *testing.T) {
	engine, _, ticketing := newTestEngine(t)
	ticketing.issues["TJ-1"] = &models.Issue{Key: "TJ-1", Status: "Open"}
	engine.completer = fakeCompleterSource{completer: fakeCompleter{err: errors.New("provider down")}}

	reply := engine.ProcessMessage(context.Background(), "c1", "", "status of TJ-1", enabledContext())
	want := "TJ-1 is currently Open."
	if reply != want {
		t.Errorf("reply = %q, want deterministic fallback %q", reply, want)
	}
}

func TestCreateIntentStartsIntake(t *testing.T) {
	engine, st, _ := newTestEngine(t)

	reply := engine.ProcessMessage(context.Background(), "c1", "", "I want to create a request", enabledContext())
	if !strings.Contains(reply, "Which project") {
		t.Errorf("expected project prompt, got %q", reply)
	}
	state, _ := st.GetIntakeState("c1")
	if state == nil || state.Stage != models.StageSelectProject {
		t.Fatalf("expected stage %q, got %+v", models.StageSelectProject, state)
	}
}

func TestCreateIntentWithIssueKeyIsLookup(t *testing.T) {
	engine, _, ticketing := newTestEngine(t)
	ticketing.issues["TJ-1"] = &models.Issue{Key: "TJ-1", Status: "Open", Reporter: "Alex"}

	reply := engine.ProcessMessage(context.Background(), "c1", "", "who was ticket TJ-1 created by", enabledContext())
	if !strings.Contains(reply, "raised by Alex") {
		t.Errorf("message with a key should be a lookup, got %q", reply)
	}
}

func TestCreateIntentNoEnabledProjectsStaysIdle(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	enabled := true
	st.SaveSettings(models.AssistantSettings{ChatbotEnabled: &enabled})

	reply := engine.ProcessMessage(context.Background(), "c1", "", "create a ticket", models.ProjectContext{})
	if !strings.Contains(reply, "no projects enabled") {
		t.Errorf("expected no-projects reply, got %q", reply)
	}
	state, _ := st.GetIntakeState("c1")
	if state != nil && state.Active() {
		t.Errorf("conversation should stay idle, got stage %q", state.Stage)
	}
}

// runIntake drives the dialogue up to the confirm stage.
func runIntake(t *testing.T, engine *Engine) {
	t.Helper()
	ctx := context.Background()
	pc := enabledContext()

	engine.ProcessMessage(ctx, "c1", "", "create a request", pc)
	engine.ProcessMessage(ctx, "c1", "", "1", pc)
	engine.ProcessMessage(ctx, "c1", "", "report a problem", pc)
	engine.ProcessMessage(ctx, "c1", "", "My laptop will not boot", pc)
	reply := engine.ProcessMessage(ctx, "c1", "", "high", pc)
	if !strings.Contains(reply, "Here's what I'll submit") {
		t.Fatalf("expected summary after last field, got %q", reply)
	}
}

func TestIntakeFullFlow(t *testing.T) {
	engine, st, ticketing := newTestEngine(t)
	runIntake(t, engine)

	state, _ := st.GetIntakeState("c1")
	if state.Stage != models.StageConfirm {
		t.Fatalf("expected confirm stage, got %q", state.Stage)
	}

	reply := engine.ProcessMessage(context.Background(), "c1", "", "confirm", enabledContext())
	if !strings.Contains(reply, "TJ-100") {
		t.Errorf("expected created issue key in reply, got %q", reply)
	}
	if !strings.Contains(reply, "https://example.test/portal/TJ-100") {
		t.Errorf("expected request link in reply, got %q", reply)
	}

	if len(ticketing.created) != 1 {
		t.Fatalf("expected 1 created request, got %d", len(ticketing.created))
	}
	values := ticketing.created[0].RequestFieldValues
	if values["summary"] != "My laptop will not boot" {
		t.Errorf("summary value = %v", values["summary"])
	}
	priority, ok := values["priority"].(map[string]interface{})
	if !ok || priority["id"] != "1" {
		t.Errorf("priority wire value = %v, want id 1", values["priority"])
	}

	state, _ = st.GetIntakeState("c1")
	if state.Active() {
		t.Errorf("state should be reset after submission, got stage %q", state.Stage)
	}
}

func TestIntakeSummaryContents(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	pc := enabledContext()

	engine.ProcessMessage(ctx, "c1", "", "create a request", pc)
	engine.ProcessMessage(ctx, "c1", "", "help", pc)
	engine.ProcessMessage(ctx, "c1", "", "1", pc)
	engine.ProcessMessage(ctx, "c1", "", "My laptop will not boot", pc)
	summary := engine.ProcessMessage(ctx, "c1", "", "2", pc)

	for _, want := range []string{"Project: Help Desk", "Request type: Report a problem", "Summary: My laptop will not boot", "Priority: Low"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestIntakeInvalidAnswerKeepsFieldIndex(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()
	pc := enabledContext()

	engine.ProcessMessage(ctx, "c1", "", "create a request", pc)
	engine.ProcessMessage(ctx, "c1", "", "1", pc)
	engine.ProcessMessage(ctx, "c1", "", "1", pc)
	engine.ProcessMessage(ctx, "c1", "", "My laptop will not boot", pc)

	reply := engine.ProcessMessage(ctx, "c1", "", "urgent", pc)
	if !strings.Contains(reply, "not one of the available options") {
		t.Errorf("expected validation error, got %q", reply)
	}
	if !strings.Contains(reply, "Priority") {
		t.Errorf("expected the prompt to be re-emitted, got %q", reply)
	}

	state, _ := st.GetIntakeState("c1")
	if state.Stage != models.StageCollectFields || state.CurrentFieldIndex != 1 {
		t.Errorf("stage/index = %q/%d, want collect_fields/1", state.Stage, state.CurrentFieldIndex)
	}

	// A valid retry advances.
	engine.ProcessMessage(ctx, "c1", "", "high", pc)
	state, _ = st.GetIntakeState("c1")
	if state.Stage != models.StageConfirm {
		t.Errorf("stage after valid retry = %q, want confirm", state.Stage)
	}
}

func TestIntakeUnknownProjectReprompts(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()
	pc := enabledContext()

	engine.ProcessMessage(ctx, "c1", "", "create a request", pc)
	reply := engine.ProcessMessage(ctx, "c1", "", "the moon base", pc)
	if !strings.Contains(reply, "didn't catch which project") {
		t.Errorf("expected re-prompt, got %q", reply)
	}
	state, _ := st.GetIntakeState("c1")
	if state.Stage != models.StageSelectProject {
		t.Errorf("stage = %q, want select_project", state.Stage)
	}
}

func TestIntakeCancelFromAnyStage(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()
	pc := enabledContext()

	engine.ProcessMessage(ctx, "c1", "", "create a request", pc)
	engine.ProcessMessage(ctx, "c1", "", "1", pc)
	reply := engine.ProcessMessage(ctx, "c1", "", "cancel", pc)
	if reply != replyCancelled {
		t.Errorf("reply = %q, want %q", reply, replyCancelled)
	}
	state, _ := st.GetIntakeState("c1")
	if state.Active() {
		t.Errorf("state should be idle after cancel, got %q", state.Stage)
	}
	if len(state.Answers) != 0 {
		t.Errorf("answers should be discarded, got %v", state.Answers)
	}
}

func TestIntakeAttachmentsStage(t *testing.T) {
	engine, st, ticketing := newTestEngine(t)
	ticketing.fields["1|25"] = append(ticketing.fields["1|25"],
		models.RawField{FieldID: "attachment", Name: "Attachment", Visible: true, Schema: models.FieldSchema{Type: "array"}})
	ctx := context.Background()
	pc := enabledContext()

	engine.ProcessMessage(ctx, "c1", "", "create a request", pc)
	engine.ProcessMessage(ctx, "c1", "", "1", pc)
	engine.ProcessMessage(ctx, "c1", "", "1", pc)
	engine.ProcessMessage(ctx, "c1", "", "My laptop will not boot", pc)
	reply := engine.ProcessMessage(ctx, "c1", "", "high", pc)
	if !strings.Contains(reply, "attachments") {
		t.Fatalf("expected attachments prompt, got %q", reply)
	}

	state, _ := st.GetIntakeState("c1")
	if state.Stage != models.StageAttachments {
		t.Fatalf("stage = %q, want attachments", state.Stage)
	}

	reply = engine.ProcessMessage(ctx, "c1", "", "attach", pc)
	if !strings.Contains(reply, "attach button") {
		t.Errorf("expected upload instructions, got %q", reply)
	}
	state, _ = st.GetIntakeState("c1")
	if state.Stage != models.StageAttachments {
		t.Errorf("attach instruction should not change stage, got %q", state.Stage)
	}

	reply = engine.ProcessMessage(ctx, "c1", "", "skip", pc)
	if !strings.Contains(reply, "Here's what I'll submit") {
		t.Errorf("expected summary after skip, got %q", reply)
	}
}

func TestAttachFilesPartialSuccess(t *testing.T) {
	engine, st, ticketing := newTestEngine(t)
	ticketing.fields["1|25"] = append(ticketing.fields["1|25"],
		models.RawField{FieldID: "attachment", Name: "Attachment", Visible: true, Schema: models.FieldSchema{Type: "array"}})
	ticketing.failUploads["bad.log"] = true
	ctx := context.Background()
	pc := enabledContext()

	engine.ProcessMessage(ctx, "c1", "", "create a request", pc)
	engine.ProcessMessage(ctx, "c1", "", "1", pc)
	engine.ProcessMessage(ctx, "c1", "", "1", pc)
	engine.ProcessMessage(ctx, "c1", "", "My laptop will not boot", pc)
	engine.ProcessMessage(ctx, "c1", "", "high", pc)

	results, err := engine.AttachFiles(ctx, "c1", []Upload{
		{Name: "a.png", Content: strings.NewReader("png")},
		{Name: "bad.log", Content: strings.NewReader("log")},
		{Name: "b.txt", Content: strings.NewReader("txt")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].TemporaryAttachmentID == "" || results[2].TemporaryAttachmentID == "" {
		t.Errorf("successful uploads missing ids: %+v", results)
	}
	if results[1].Error == "" {
		t.Errorf("failed upload should carry an error: %+v", results[1])
	}

	state, _ := st.GetIntakeState("c1")
	if len(state.TemporaryAttachmentIDs) != 2 {
		t.Errorf("expected 2 stored attachment ids, got %v", state.TemporaryAttachmentIDs)
	}
	if state.Stage != models.StageAttachments {
		t.Errorf("stage should be unchanged, got %q", state.Stage)
	}
}

func TestAttachFilesWithoutActiveIntake(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.AttachFiles(context.Background(), "c1", []Upload{{Name: "a.png", Content: strings.NewReader("x")}})
	if !errors.Is(err, models.ErrConversationClosed) {
		t.Errorf("err = %v, want ErrConversationClosed", err)
	}
}

func TestSubmitFailureStaysOnConfirm(t *testing.T) {
	engine, st, ticketing := newTestEngine(t)
	runIntake(t, engine)
	ticketing.createErr = &servicedesk.StatusError{StatusCode: http.StatusBadRequest, Body: `{"errorMessages":["Summary is required"]}`}

	reply := engine.ProcessMessage(context.Background(), "c1", "", "confirm", enabledContext())
	if !strings.Contains(reply, "couldn't submit") {
		t.Errorf("expected failure reply, got %q", reply)
	}
	state, _ := st.GetIntakeState("c1")
	if state.Stage != models.StageConfirm {
		t.Errorf("stage = %q, want confirm for retry", state.Stage)
	}

	// Retry succeeds once the backend recovers.
	ticketing.createErr = nil
	reply = engine.ProcessMessage(context.Background(), "c1", "", "confirm", enabledContext())
	if !strings.Contains(reply, "TJ-100") {
		t.Errorf("expected success on retry, got %q", reply)
	}
}

func TestSubmitRetriesWithoutAttachments(t *testing.T) {
	engine, _, ticketing := newTestEngine(t)
	ticketing.rejectAttachmentsOnCreate = true

	created, warning, err := engine.Submit(context.Background(), SubmitInput{
		ServiceDeskID:          "1",
		RequestTypeID:          "25",
		Fields:                 nil,
		Answers:                nil,
		TemporaryAttachmentIDs: []string{"tmp-1", "tmp-2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.IssueKey != "TJ-100" {
		t.Errorf("issue key = %q", created.IssueKey)
	}
	if warning != "" {
		t.Errorf("expected no warning when re-attachment succeeds, got %q", warning)
	}
	if got := ticketing.attached["TJ-100"]; len(got) != 2 {
		t.Errorf("expected 2 re-attached files, got %v", got)
	}
	if len(ticketing.created) != 1 || len(ticketing.created[0].TemporaryAttachmentIDs) != 0 {
		t.Errorf("retry should have dropped attachments from the create call: %+v", ticketing.created)
	}
}

func TestSubmitWarnsWhenReattachmentFails(t *testing.T) {
	engine, _, ticketing := newTestEngine(t)
	ticketing.rejectAttachmentsOnCreate = true
	ticketing.attachErr = errors.New("attach endpoint down")

	created, warning, err := engine.Submit(context.Background(), SubmitInput{
		ServiceDeskID:          "1",
		RequestTypeID:          "25",
		TemporaryAttachmentIDs: []string{"tmp-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created == nil || created.IssueKey != "TJ-100" {
		t.Fatalf("expected created request, got %+v", created)
	}
	if !strings.Contains(warning, "couldn't attach your files") {
		t.Errorf("expected attachment warning, got %q", warning)
	}
}

func TestSubmitOriginalErrorWhenRetryFails(t *testing.T) {
	engine, _, ticketing := newTestEngine(t)
	original := &servicedesk.StatusError{StatusCode: http.StatusBadRequest, Body: "bad request"}
	ticketing.createErr = original

	_, _, err := engine.Submit(context.Background(), SubmitInput{
		ServiceDeskID:          "1",
		RequestTypeID:          "25",
		TemporaryAttachmentIDs: []string{"tmp-1"},
	})
	if !errors.Is(err, original) {
		t.Errorf("expected the original creation error, got %v", err)
	}
}

func TestFetchRequestTypeFieldsExcludesAttachment(t *testing.T) {
	engine, _, ticketing := newTestEngine(t)
	ticketing.fields["1|25"] = append(ticketing.fields["1|25"],
		models.RawField{FieldID: "attachment", Name: "Attachment", Visible: true, Required: true, Schema: models.FieldSchema{Type: "array"}},
		models.RawField{FieldID: "labels", Name: "Labels", Visible: true, Required: false, Schema: models.FieldSchema{Type: "array"}},
		models.RawField{FieldID: "hidden", Name: "Hidden", Visible: false, Required: true})

	fields, allowsAttachments, err := engine.FetchRequestTypeFields(context.Background(), "1", "25")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowsAttachments {
		t.Error("expected allowsAttachments to be true")
	}
	for _, f := range fields {
		if f.FieldID == "attachment" {
			t.Error("attachment field should not be collectable")
		}
		if f.FieldID == "labels" {
			t.Error("optional fields should be excluded")
		}
		if f.FieldID == "hidden" {
			t.Error("invisible fields should be excluded")
		}
	}
	if len(fields) != 2 {
		t.Errorf("expected 2 collectable fields, got %d", len(fields))
	}
}

func TestListCreatableProjectsRespectsEnablement(t *testing.T) {
	engine, _, ticketing := newTestEngine(t)
	ticketing.desks = append(ticketing.desks,
		models.ServiceDeskSummary{ID: "2", ProjectID: "20000", ProjectKey: "OTHER", ProjectName: "Other"})

	projects, err := engine.ListCreatableProjects(context.Background(), models.ProjectContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(projects) != 1 || projects[0].ProjectID != "10000" {
		t.Errorf("expected only the enabled project, got %v", projects)
	}
}

func TestListCreatableProjectsPinnedToContext(t *testing.T) {
	engine, st, ticketing := newTestEngine(t)
	enabled := true
	st.SaveSettings(models.AssistantSettings{
		ChatbotEnabled:  &enabled,
		EnabledProjects: map[string]bool{"10000": true, "20000": true},
	})
	ticketing.desks = append(ticketing.desks,
		models.ServiceDeskSummary{ID: "2", ProjectID: "20000", ProjectKey: "OTHER", ProjectName: "Other"})

	projects, err := engine.ListCreatableProjects(context.Background(), models.ProjectContext{ProjectID: "20000"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(projects) != 1 || projects[0].ProjectID != "20000" {
		t.Errorf("expected only the pinned project, got %v", projects)
	}
}
