// Package testutil provides common test utilities and helpers for PortalAssist tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/PortalAssist/internal/access"
	"github.com/BTreeMap/PortalAssist/internal/api"
	"github.com/BTreeMap/PortalAssist/internal/flow"
	"github.com/BTreeMap/PortalAssist/internal/genai"
	"github.com/BTreeMap/PortalAssist/internal/models"
	"github.com/BTreeMap/PortalAssist/internal/ratelimit"
	"github.com/BTreeMap/PortalAssist/internal/servicedesk"
	"github.com/BTreeMap/PortalAssist/internal/store"
)

// TestProjectID is the project the default test settings enable.
const TestProjectID = "10000"

// FakeTicketing is an in-memory stand-in for the ticketing client. It
// implements both flow.Ticketing and access.Directory.
type FakeTicketing struct {
	Desks        []models.ServiceDeskSummary
	RequestTypes map[string][]models.RequestTypeSummary
	Fields       map[string][]models.RawField
	Issues       map[string]*models.Issue
	ProjectIDs   map[string]string

	Created      []servicedesk.CreateRequestInput
	Attached     map[string][]string
	NextIssueKey string
	NextIssueID  string

	ListDesksErr error
	CreateErr    error
	UploadErr    error
	AttachErr    error

	uploadSeq int
}

// NewFakeTicketing creates an empty fake with initialized maps.
func NewFakeTicketing() *FakeTicketing {
	return &FakeTicketing{
		RequestTypes: make(map[string][]models.RequestTypeSummary),
		Fields:       make(map[string][]models.RawField),
		Issues:       make(map[string]*models.Issue),
		ProjectIDs:   make(map[string]string),
		Attached:     make(map[string][]string),
		NextIssueKey: "TJ-100",
		NextIssueID:  "90001",
	}
}

func fieldsKey(serviceDeskID, requestTypeID string) string {
	return serviceDeskID + "|" + requestTypeID
}

// SetFields registers raw fields for a service desk / request type pair.
func (f *FakeTicketing) SetFields(serviceDeskID, requestTypeID string, fields []models.RawField) {
	f.Fields[fieldsKey(serviceDeskID, requestTypeID)] = fields
}

func (f *FakeTicketing) ListServiceDesks(ctx context.Context) ([]models.ServiceDeskSummary, error) {
	if f.ListDesksErr != nil {
		return nil, f.ListDesksErr
	}
	return f.Desks, nil
}

func (f *FakeTicketing) ListRequestTypes(ctx context.Context, serviceDeskID string) ([]models.RequestTypeSummary, error) {
	return f.RequestTypes[serviceDeskID], nil
}

func (f *FakeTicketing) ListRequestTypeFields(ctx context.Context, serviceDeskID, requestTypeID string) ([]models.RawField, error) {
	return f.Fields[fieldsKey(serviceDeskID, requestTypeID)], nil
}

func (f *FakeTicketing) Issue(ctx context.Context, key string, fields []string) (*models.Issue, error) {
	issue, ok := f.Issues[key]
	if !ok {
		return nil, &servicedesk.StatusError{StatusCode: http.StatusNotFound, Body: "issue does not exist"}
	}
	return issue, nil
}

func (f *FakeTicketing) CreateRequest(ctx context.Context, input servicedesk.CreateRequestInput) (*models.CreatedRequest, error) {
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.Created = append(f.Created, input)
	return &models.CreatedRequest{
		IssueKey: f.NextIssueKey,
		IssueID:  f.NextIssueID,
		WebLink:  "https://example.test/portal/" + f.NextIssueKey,
	}, nil
}

func (f *FakeTicketing) UploadTemporaryFile(ctx context.Context, serviceDeskID, filename string, r io.Reader) (string, error) {
	if f.UploadErr != nil {
		return "", f.UploadErr
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	f.uploadSeq++
	return fmt.Sprintf("tmp-%d", f.uploadSeq), nil
}

func (f *FakeTicketing) AttachToIssue(ctx context.Context, issueKeyOrID string, temporaryAttachmentIDs []string) error {
	if f.AttachErr != nil {
		return f.AttachErr
	}
	f.Attached[issueKeyOrID] = append(f.Attached[issueKeyOrID], temporaryAttachmentIDs...)
	return nil
}

func (f *FakeTicketing) ServiceDeskByPortalID(ctx context.Context, portalID string) (*models.ServiceDeskSummary, error) {
	for i := range f.Desks {
		if f.Desks[i].ID == portalID {
			return &f.Desks[i], nil
		}
	}
	return nil, nil
}

func (f *FakeTicketing) ProjectByKey(ctx context.Context, key string) (string, error) {
	return f.ProjectIDs[key], nil
}

// StaticCompleterSource returns a fixed completer or error from Completer.
type StaticCompleterSource struct {
	C   genai.Completer
	Err error
}

func (s StaticCompleterSource) Completer(ctx context.Context) (genai.Completer, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if s.C == nil {
		return nil, models.ErrMissingCredential
	}
	return s.C, nil
}

// NewTestServer creates a test API server with in-memory dependencies:
// an InMemoryStore seeded with settings enabling TestProjectID, a fake
// ticketing backend, and no LLM completer. The store and fake are returned
// so tests can adjust them.
func NewTestServer() (*api.Server, *store.InMemoryStore, *FakeTicketing) {
	st := store.NewInMemoryStore()
	enabled := true
	_ = st.SaveSettings(models.AssistantSettings{
		ChatbotEnabled:  &enabled,
		EnabledProjects: map[string]bool{TestProjectID: true},
	})

	ticketing := NewFakeTicketing()
	resolver := access.NewResolver(ticketing)
	policy := access.NewPolicy(st, resolver)
	limiter := ratelimit.NewLimiter(st)

	engine := flow.NewEngine(flow.Dependencies{
		Store:     st,
		Policy:    policy,
		Resolver:  resolver,
		Limiter:   limiter,
		Ticketing: ticketing,
		Completer: StaticCompleterSource{Err: models.ErrMissingCredential},
	})
	return api.NewServer(engine, policy, ticketing), st, ticketing
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON envelope response and validates the status field.
func AssertJSONResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t testing.TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}
