// Package servicedesk implements the REST client for the ticketing system.
//
// It covers the endpoints the assistant depends on: project search, service
// desk and request type listing, request type field listing, issue fetch with
// field projection, request creation, and temporary attachment handling. The
// ticketing system is an external collaborator; its wire format is treated as
// given.
package servicedesk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BTreeMap/PortalAssist/internal/models"
)

// DefaultTimeout bounds every ticketing call; expiry is treated as the
// corresponding network failure by callers.
const DefaultTimeout = 30 * time.Second

// pageSize is the limit parameter used for paginated listings.
const pageSize = 50

// StatusError carries the HTTP status and raw body of a failed ticketing
// call. Submission handlers parse the body for structured field errors and
// fall back to this raw form when the body is opaque.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ticketing request failed with status %d: %s", e.StatusCode, e.Body)
}

// ErrorBody is the structured error shape the ticketing system returns for
// rejected requests.
type ErrorBody struct {
	ErrorMessages []string          `json:"errorMessages,omitempty"`
	Errors        map[string]string `json:"errors,omitempty"`
}

// HumanMessage joins the structured error body into one readable message.
// Returns "" when the body carries no usable detail.
func (e *ErrorBody) HumanMessage() string {
	var parts []string
	parts = append(parts, e.ErrorMessages...)
	for field, msg := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return strings.Join(parts, "; ")
}

// Client talks to the ticketing system's REST API using basic auth.
type Client struct {
	baseURL    string
	email      string
	apiToken   string
	httpClient *http.Client
}

// Opts holds configuration options for the ticketing client.
type Opts struct {
	BaseURL  string
	Email    string
	APIToken string
	Timeout  time.Duration
	// HTTPClient overrides the default client (used by tests).
	HTTPClient *http.Client
}

// Option configures client creation.
type Option func(*Opts)

// WithBaseURL sets the ticketing system base URL.
func WithBaseURL(u string) Option { return func(o *Opts) { o.BaseURL = u } }

// WithCredentials sets the basic auth email and API token.
func WithCredentials(email, token string) Option {
	return func(o *Opts) { o.Email = email; o.APIToken = token }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option { return func(o *Opts) { o.Timeout = d } }

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(o *Opts) { o.HTTPClient = c } }

// NewClient creates a ticketing client. BaseURL is required.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ticketing base URL not set")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		email:      cfg.Email,
		apiToken:   cfg.APIToken,
		httpClient: httpClient,
	}, nil
}

// doJSON performs an HTTP request with auth headers and decodes a JSON
// response into out. Non-2xx statuses are returned as *StatusError.
func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.email != "" {
		req.SetBasicAuth(c.email, c.apiToken)
	}

	slog.Debug("servicedesk.Client request", "method", method, "path", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ticketing request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read ticketing response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("servicedesk.Client non-2xx response", "method", method, "path", path, "status", resp.StatusCode)
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode ticketing response: %w", err)
		}
	}
	return nil
}

// ProjectByKey resolves a project key to its project id via the
// project-search endpoint. Returns "" when no project matches.
func (c *Client) ProjectByKey(ctx context.Context, key string) (string, error) {
	var result struct {
		Values []struct {
			ID   string `json:"id"`
			Key  string `json:"key"`
			Name string `json:"name"`
		} `json:"values"`
	}
	path := "/rest/api/3/project/search?typeKey=service_desk&query=" + url.QueryEscape(key)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &result); err != nil {
		return "", err
	}
	for _, p := range result.Values {
		if strings.EqualFold(p.Key, key) {
			return p.ID, nil
		}
	}
	if len(result.Values) > 0 {
		return result.Values[0].ID, nil
	}
	return "", nil
}

// serviceDeskRecord is the wire shape of one service desk.
type serviceDeskRecord struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	ProjectKey  string `json:"projectKey"`
	ProjectName string `json:"projectName"`
}

func (r serviceDeskRecord) summary() models.ServiceDeskSummary {
	return models.ServiceDeskSummary{
		ID:          r.ID,
		ProjectID:   r.ProjectID,
		ProjectKey:  r.ProjectKey,
		ProjectName: r.ProjectName,
	}
}

// ServiceDeskByPortalID looks up the service desk behind a portal id and
// returns its project mapping.
func (c *Client) ServiceDeskByPortalID(ctx context.Context, portalID string) (*models.ServiceDeskSummary, error) {
	var record serviceDeskRecord
	path := "/rest/servicedeskapi/servicedesk/" + url.PathEscape(portalID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &record); err != nil {
		return nil, err
	}
	s := record.summary()
	return &s, nil
}

// ListServiceDesks returns every service desk the authenticated user can
// access, accumulating pages until the last-page signal or the computed
// offset reaches the reported total.
func (c *Client) ListServiceDesks(ctx context.Context) ([]models.ServiceDeskSummary, error) {
	var desks []models.ServiceDeskSummary
	start := 0
	for {
		var page struct {
			Size       int                 `json:"size"`
			Start      int                 `json:"start"`
			Limit      int                 `json:"limit"`
			IsLastPage bool                `json:"isLastPage"`
			Values     []serviceDeskRecord `json:"values"`
		}
		path := fmt.Sprintf("/rest/servicedeskapi/servicedesk?start=%d&limit=%d", start, pageSize)
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		for _, r := range page.Values {
			desks = append(desks, r.summary())
		}
		start += len(page.Values)
		if page.IsLastPage || len(page.Values) == 0 || (page.Size > 0 && start >= page.Size) {
			break
		}
	}
	slog.Debug("servicedesk.Client listed service desks", "count", len(desks))
	return desks, nil
}

// ListRequestTypes returns the request types of a service desk.
func (c *Client) ListRequestTypes(ctx context.Context, serviceDeskID string) ([]models.RequestTypeSummary, error) {
	var types []models.RequestTypeSummary
	start := 0
	for {
		var page struct {
			Size       int  `json:"size"`
			IsLastPage bool `json:"isLastPage"`
			Values     []struct {
				ID          string `json:"id"`
				Name        string `json:"name"`
				Description string `json:"description"`
			} `json:"values"`
		}
		path := fmt.Sprintf("/rest/servicedeskapi/servicedesk/%s/requesttype?start=%d&limit=%d",
			url.PathEscape(serviceDeskID), start, pageSize)
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		for _, rt := range page.Values {
			types = append(types, models.RequestTypeSummary{ID: rt.ID, Name: rt.Name, Description: rt.Description})
		}
		start += len(page.Values)
		if page.IsLastPage || len(page.Values) == 0 || (page.Size > 0 && start >= page.Size) {
			break
		}
	}
	return types, nil
}

// ListRequestTypeFields returns the raw field definitions of a request type.
func (c *Client) ListRequestTypeFields(ctx context.Context, serviceDeskID, requestTypeID string) ([]models.RawField, error) {
	var result struct {
		RequestTypeFields []models.RawField `json:"requestTypeFields"`
	}
	path := fmt.Sprintf("/rest/servicedeskapi/servicedesk/%s/requesttype/%s/field",
		url.PathEscape(serviceDeskID), url.PathEscape(requestTypeID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.RequestTypeFields, nil
}

// Issue fetches an issue by key with a field projection. Returns a
// *StatusError with status 404 when the issue does not exist or the caller
// cannot see it; the ticketing system's own access control applies.
func (c *Client) Issue(ctx context.Context, key string, fields []string) (*models.Issue, error) {
	var result struct {
		Key    string `json:"key"`
		Fields struct {
			Summary string `json:"summary"`
			Status  *struct {
				Name string `json:"name"`
			} `json:"status"`
			Assignee *struct {
				DisplayName string `json:"displayName"`
			} `json:"assignee"`
			Reporter *struct {
				DisplayName string `json:"displayName"`
			} `json:"reporter"`
		} `json:"fields"`
	}
	projection := "summary,status,assignee,reporter"
	if len(fields) > 0 {
		projection = strings.Join(fields, ",")
	}
	path := "/rest/api/3/issue/" + url.PathEscape(key) + "?fields=" + url.QueryEscape(projection)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	issue := &models.Issue{Key: result.Key, Summary: result.Fields.Summary}
	if result.Fields.Status != nil {
		issue.Status = result.Fields.Status.Name
	}
	if result.Fields.Assignee != nil {
		issue.Assignee = result.Fields.Assignee.DisplayName
	}
	if result.Fields.Reporter != nil {
		issue.Reporter = result.Fields.Reporter.DisplayName
	}
	return issue, nil
}

// CreateRequestInput is the payload for request creation.
type CreateRequestInput struct {
	ServiceDeskID          string                 `json:"serviceDeskId"`
	RequestTypeID          string                 `json:"requestTypeId"`
	RequestFieldValues     map[string]interface{} `json:"requestFieldValues"`
	TemporaryAttachmentIDs []string               `json:"temporaryAttachmentIds,omitempty"`
	RaiseOnBehalfOf        string                 `json:"raiseOnBehalfOf,omitempty"`
}

// CreateRequest submits a new customer request. On rejection the returned
// error is a *StatusError whose body may contain a structured ErrorBody.
func (c *Client) CreateRequest(ctx context.Context, input CreateRequestInput) (*models.CreatedRequest, error) {
	var result struct {
		IssueKey string `json:"issueKey"`
		IssueID  string `json:"issueId"`
		Links    struct {
			Web string `json:"web"`
		} `json:"_links"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/rest/servicedeskapi/request", input, &result); err != nil {
		return nil, err
	}
	slog.Info("servicedesk.Client request created", "issueKey", result.IssueKey)
	return &models.CreatedRequest{
		IssueKey: result.IssueKey,
		IssueID:  result.IssueID,
		WebLink:  result.Links.Web,
	}, nil
}

// ParseSubmissionError extracts a human-readable message from a failed
// CreateRequest call. Structured field-level messages are joined; opaque
// errors fall back to raw status and body text.
func ParseSubmissionError(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		var body ErrorBody
		if jsonErr := json.Unmarshal([]byte(statusErr.Body), &body); jsonErr == nil {
			if msg := body.HumanMessage(); msg != "" {
				return msg
			}
		}
		return fmt.Sprintf("the ticketing system rejected the request (status %d): %s", statusErr.StatusCode, statusErr.Body)
	}
	return err.Error()
}

// UploadTemporaryFile uploads one file as a temporary attachment for a
// service desk and returns its temporary attachment id.
func (c *Client) UploadTemporaryFile(ctx context.Context, serviceDeskID, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build multipart form: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("failed to copy file content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart form: %w", err)
	}

	path := fmt.Sprintf("%s/rest/servicedeskapi/servicedesk/%s/attachTemporaryFile",
		c.baseURL, url.PathEscape(serviceDeskID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Atlassian-Token", "no-check")
	if c.email != "" {
		req.SetBasicAuth(c.email, c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("attachment upload failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result struct {
		TemporaryAttachments []struct {
			TemporaryAttachmentID string `json:"temporaryAttachmentId"`
			FileName              string `json:"fileName"`
		} `json:"temporaryAttachments"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if len(result.TemporaryAttachments) == 0 {
		return "", fmt.Errorf("upload response contained no attachment id")
	}
	slog.Debug("servicedesk.Client uploaded temporary file", "filename", filename)
	return result.TemporaryAttachments[0].TemporaryAttachmentID, nil
}

// AttachToIssue links previously uploaded temporary attachments to an
// existing issue.
func (c *Client) AttachToIssue(ctx context.Context, issueKeyOrID string, temporaryAttachmentIDs []string) error {
	payload := map[string]interface{}{
		"temporaryAttachmentIds": temporaryAttachmentIDs,
		"public":                 true,
	}
	path := "/rest/servicedeskapi/request/" + url.PathEscape(issueKeyOrID) + "/attachment"
	return c.doJSON(ctx, http.MethodPost, path, payload, nil)
}
