// Package api provides HTTP handlers for PortalAssist endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/PortalAssist/internal/flow"
	"github.com/BTreeMap/PortalAssist/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// maxUploadMemory bounds in-memory buffering of multipart uploads.
const maxUploadMemory = 32 << 20

// accountIDHeader carries the authenticated account id, when the portal has
// one. Requests without it fall back through context fields to the shared
// anonymous rate-limit bucket.
const accountIDHeader = "X-Account-Id"

func (s *Server) availabilityHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var pc models.ProjectContext
	if err := json.NewDecoder(r.Body).Decode(&pc); err != nil {
		slog.Warn("Server.availabilityHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	decision := s.policy.Check(r.Context(), pc)
	slog.Debug("Server.availabilityHandler decision", "enabled", decision.Enabled, "reason", decision.Reason)
	writeJSONResponse(w, http.StatusOK, models.Success(decision))
}

type chatRequest struct {
	ConversationID string                `json:"conversationId,omitempty"`
	Message        string                `json:"message"`
	Context        models.ProjectContext `json:"context"`
}

type chatResponse struct {
	ConversationID string `json:"conversationId"`
	Reply          string `json:"reply"`
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Message == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Message cannot be empty"))
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	accountID := r.Header.Get(accountIDHeader)
	if accountID == "" {
		accountID = req.Context.AccountID
	}

	reply := s.engine.ProcessMessage(r.Context(), req.ConversationID, accountID, req.Message, req.Context)
	writeJSONResponse(w, http.StatusOK, models.Success(chatResponse{
		ConversationID: req.ConversationID,
		Reply:          reply,
	}))
}

func (s *Server) projectsHandler(w http.ResponseWriter, r *http.Request) {
	pc := models.ProjectContext{
		ProjectID:  r.URL.Query().Get("projectId"),
		ProjectKey: r.URL.Query().Get("projectKey"),
		PortalID:   r.URL.Query().Get("portalId"),
	}
	projects, err := s.engine.ListCreatableProjects(r.Context(), pc)
	if err != nil {
		slog.Error("Server.projectsHandler: listing failed", "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to list projects"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{"projects": projects}))
}

func (s *Server) requestTypesHandler(w http.ResponseWriter, r *http.Request) {
	serviceDeskID := chi.URLParam(r, "serviceDeskID")
	types, err := s.ticketing.ListRequestTypes(r.Context(), serviceDeskID)
	if err != nil {
		slog.Error("Server.requestTypesHandler: listing failed", "error", err, "serviceDeskID", serviceDeskID)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to list request types"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{"requestTypes": types}))
}

func (s *Server) requestTypeFieldsHandler(w http.ResponseWriter, r *http.Request) {
	serviceDeskID := chi.URLParam(r, "serviceDeskID")
	requestTypeID := chi.URLParam(r, "requestTypeID")
	fields, allowsAttachments, err := s.engine.FetchRequestTypeFields(r.Context(), serviceDeskID, requestTypeID)
	if err != nil {
		slog.Error("Server.requestTypeFieldsHandler: listing failed", "error", err,
			"serviceDeskID", serviceDeskID, "requestTypeID", requestTypeID)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to list request type fields"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"fields":            fields,
		"allowsAttachments": allowsAttachments,
	}))
}

type submitRequest struct {
	ServiceDeskID          string                 `json:"serviceDeskId"`
	RequestTypeID          string                 `json:"requestTypeId"`
	Answers                map[string]interface{} `json:"answers"`
	TemporaryAttachmentIDs []string               `json:"temporaryAttachmentIds,omitempty"`
	Context                models.ProjectContext  `json:"context"`
}

type submitResponse struct {
	Success     bool   `json:"success"`
	IssueKey    string `json:"issueKey"`
	IssueID     string `json:"issueId"`
	RequestLink string `json:"requestLink,omitempty"`
	Warning     string `json:"warning,omitempty"`
}

func (s *Server) submitRequestHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.submitRequestHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ServiceDeskID == "" || req.RequestTypeID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("serviceDeskId and requestTypeId are required"))
		return
	}

	if decision := s.policy.Check(r.Context(), req.Context); !decision.Enabled {
		slog.Info("Server.submitRequestHandler: blocked by availability policy", "reason", decision.Reason)
		writeJSONResponse(w, http.StatusForbidden, models.Error("The assistant is not available for this project"))
		return
	}

	fields, _, err := s.engine.FetchRequestTypeFields(r.Context(), req.ServiceDeskID, req.RequestTypeID)
	if err != nil {
		slog.Error("Server.submitRequestHandler: field fetch failed", "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to load request type fields"))
		return
	}

	created, warning, err := s.engine.Submit(r.Context(), flow.SubmitInput{
		ServiceDeskID:          req.ServiceDeskID,
		RequestTypeID:          req.RequestTypeID,
		Fields:                 fields,
		Answers:                req.Answers,
		TemporaryAttachmentIDs: req.TemporaryAttachmentIDs,
	})
	if err != nil {
		slog.Error("Server.submitRequestHandler: submission failed", "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error(err.Error()))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(submitResponse{
		Success:     true,
		IssueKey:    created.IssueKey,
		IssueID:     created.IssueID,
		RequestLink: created.WebLink,
		Warning:     warning,
	}))
}

func (s *Server) attachmentsHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		slog.Warn("Server.attachmentsHandler: failed to parse multipart form", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid multipart form"))
		return
	}

	fileHeaders := r.MultipartForm.File["files"]
	if len(fileHeaders) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("No files provided"))
		return
	}

	var uploads []flow.Upload
	var openers []interface{ Close() error }
	for _, fh := range fileHeaders {
		f, err := fh.Open()
		if err != nil {
			slog.Warn("Server.attachmentsHandler: failed to open uploaded file", "error", err, "filename", fh.Filename)
			continue
		}
		openers = append(openers, f)
		uploads = append(uploads, flow.Upload{Name: fh.Filename, Content: f})
	}
	defer func() {
		for _, f := range openers {
			f.Close()
		}
	}()

	results, err := s.engine.AttachFiles(r.Context(), conversationID, uploads)
	if err != nil {
		if errors.Is(err, models.ErrConversationClosed) {
			writeJSONResponse(w, http.StatusConflict, models.Error("There is no active request to attach files to"))
			return
		}
		slog.Error("Server.attachmentsHandler: attach failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process attachments"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{"results": results}))
}
