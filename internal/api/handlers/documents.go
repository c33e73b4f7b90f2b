package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cloo-solutions/ragquery/internal/api"
	"github.com/cloo-solutions/ragquery/internal/api/middleware"
	"github.com/cloo-solutions/ragquery/internal/domain"
	"github.com/cloo-solutions/ragquery/internal/service"
	"github.com/go-chi/chi/v5"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type DocumentService interface {
	Create(ctx context.Context, input service.CreateDocumentInput) (*domain.Document, error)
	Get(ctx context.Context, ownerID, id string) (*domain.Document, error)
	List(ctx context.Context, input service.ListDocumentsInput) (*service.ListDocumentsOutput, error)
	Delete(ctx context.Context, ownerID, id string) error
	InitAttachment(ctx context.Context, ownerID, id, filename, contentType string) (*service.AttachmentUpload, error)
	CompleteAttachment(ctx context.Context, ownerID, id, key string) (*domain.Document, error)
	AttachmentURL(ctx context.Context, ownerID, id string) (string, error)
}

type IngestionService interface {
	Ingest(ctx context.Context, documentID string) (int, error)
	Reprocess(ctx context.Context, ownerID string) (*service.ReprocessReport, error)
}

type DocumentHandler struct {
	docs      DocumentService
	ingestion IngestionService
}

func NewDocumentHandler(docs DocumentService, ingestion IngestionService) *DocumentHandler {
	return &DocumentHandler{docs: docs, ingestion: ingestion}
}

type CreateDocumentRequest struct {
	Title    string `json:"title"`
	Source   string `json:"source"`
	Content  string `json:"content"`
	MimeType string `json:"mime_type"`
}

type DocumentResponse struct {
	ID            string `json:"id"`
	OwnerID       string `json:"owner_id"`
	Title         string `json:"title"`
	Source        string `json:"source,omitempty"`
	MimeType      string `json:"mime_type,omitempty"`
	HasAttachment bool   `json:"has_attachment"`
	Content       string `json:"content,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func documentToResponse(d *domain.Document, withContent bool) *DocumentResponse {
	resp := &DocumentResponse{
		ID:            d.ID,
		OwnerID:       d.OwnerID,
		Title:         d.Title,
		Source:        d.Source,
		MimeType:      d.MimeType,
		HasAttachment: d.HasAttachment(),
		CreatedAt:     d.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     d.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if withContent {
		resp.Content = d.Content
	}
	return resp
}

type DocumentListResponse struct {
	Items   []*DocumentResponse `json:"items"`
	Cursor  string              `json:"cursor,omitempty"`
	HasMore bool                `json:"has_more"`
}

type IngestResponse struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
}

type DocumentOutcomeResponse struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error,omitempty"`
}

type ReprocessResponse struct {
	Total     int                       `json:"total"`
	Skipped   int                       `json:"skipped"`
	Succeeded int                       `json:"succeeded"`
	Failed    int                       `json:"failed"`
	Outcomes  []DocumentOutcomeResponse `json:"outcomes"`
}

type InitAttachmentRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

type InitAttachmentResponse struct {
	DocumentID string `json:"document_id"`
	StorageKey string `json:"storage_key"`
	UploadURL  string `json:"upload_url"`
}

type CompleteAttachmentRequest struct {
	StorageKey string `json:"storage_key"`
}

type AttachmentURLResponse struct {
	URL string `json:"url"`
}

// requireUser returns the authenticated user or writes a 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}

func (h *DocumentHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		api.Error(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Content == "" {
		api.Error(w, http.StatusBadRequest, "content is required")
		return
	}

	doc, err := h.docs.Create(r.Context(), service.CreateDocumentInput{
		OwnerID:  userID,
		Title:    req.Title,
		Source:   req.Source,
		Content:  req.Content,
		MimeType: req.MimeType,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, documentToResponse(doc, false))
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	doc, err := h.docs.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, documentToResponse(doc, true))
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxListLimit)
		}
	}

	output, err := h.docs.List(r.Context(), service.ListDocumentsInput{
		OwnerID: userID,
		Cursor:  r.URL.Query().Get("cursor"),
		Limit:   limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*DocumentResponse, len(output.Items))
	for i, d := range output.Items {
		items[i] = documentToResponse(d, false)
	}

	api.Success(w, http.StatusOK, DocumentListResponse{
		Items:   items,
		Cursor:  output.Cursor,
		HasMore: output.HasMore,
	})
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.docs.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		api.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Ingest chunks and embeds one document synchronously and reports the
// number of chunks written.
func (h *DocumentHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := h.docs.Get(r.Context(), userID, id); err != nil {
		api.HandleError(w, err)
		return
	}

	n, err := h.ingestion.Ingest(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, IngestResponse{DocumentID: id, Chunks: n})
}

func (h *DocumentHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	report, err := h.ingestion.Reprocess(r.Context(), userID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	outcomes := make([]DocumentOutcomeResponse, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		out := DocumentOutcomeResponse{DocumentID: o.DocumentID, Chunks: o.Chunks, Attempts: o.Attempts}
		if o.Err != nil {
			out.Error = o.Err.Error()
		}
		outcomes = append(outcomes, out)
	}

	api.Success(w, http.StatusOK, ReprocessResponse{
		Total:     report.Total,
		Skipped:   report.Skipped,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
		Outcomes:  outcomes,
	})
}

func (h *DocumentHandler) InitAttachment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req InitAttachmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Filename == "" {
		api.Error(w, http.StatusBadRequest, "filename is required")
		return
	}
	if req.ContentType == "" {
		req.ContentType = "application/octet-stream"
	}

	upload, err := h.docs.InitAttachment(r.Context(), userID, chi.URLParam(r, "id"), req.Filename, req.ContentType)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, InitAttachmentResponse{
		DocumentID: upload.DocumentID,
		StorageKey: upload.StorageKey,
		UploadURL:  upload.UploadURL,
	})
}

func (h *DocumentHandler) CompleteAttachment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req CompleteAttachmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StorageKey == "" {
		api.Error(w, http.StatusBadRequest, "storage_key is required")
		return
	}

	doc, err := h.docs.CompleteAttachment(r.Context(), userID, chi.URLParam(r, "id"), req.StorageKey)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, documentToResponse(doc, false))
}

func (h *DocumentHandler) AttachmentURL(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	url, err := h.docs.AttachmentURL(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, AttachmentURLResponse{URL: url})
}
