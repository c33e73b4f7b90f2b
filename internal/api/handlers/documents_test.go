package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloo-solutions/ragquery/internal/domain"
	"github.com/cloo-solutions/ragquery/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockDocumentService struct {
	mock.Mock
}

func (m *MockDocumentService) Create(ctx context.Context, input service.CreateDocumentInput) (*domain.Document, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentService) Get(ctx context.Context, ownerID, id string) (*domain.Document, error) {
	args := m.Called(ctx, ownerID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentService) List(ctx context.Context, input service.ListDocumentsInput) (*service.ListDocumentsOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ListDocumentsOutput), args.Error(1)
}

func (m *MockDocumentService) Delete(ctx context.Context, ownerID, id string) error {
	args := m.Called(ctx, ownerID, id)
	return args.Error(0)
}

func (m *MockDocumentService) InitAttachment(ctx context.Context, ownerID, id, filename, contentType string) (*service.AttachmentUpload, error) {
	args := m.Called(ctx, ownerID, id, filename, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AttachmentUpload), args.Error(1)
}

func (m *MockDocumentService) CompleteAttachment(ctx context.Context, ownerID, id, key string) (*domain.Document, error) {
	args := m.Called(ctx, ownerID, id, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentService) AttachmentURL(ctx context.Context, ownerID, id string) (string, error) {
	args := m.Called(ctx, ownerID, id)
	return args.String(0), args.Error(1)
}

type MockIngestionService struct {
	mock.Mock
}

func (m *MockIngestionService) Ingest(ctx context.Context, documentID string) (int, error) {
	args := m.Called(ctx, documentID)
	return args.Int(0), args.Error(1)
}

func (m *MockIngestionService) Reprocess(ctx context.Context, ownerID string) (*service.ReprocessReport, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ReprocessReport), args.Error(1)
}

func testDocument(id string) *domain.Document {
	return domain.NewDocument(id, testUserID, "Q4 report", "upload", "Company X revenue grew 20% in Q4.", "text/plain",
		time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC))
}

func TestDocumentHandler_Create(t *testing.T) {
	docs := new(MockDocumentService)
	docs.On("Create", mock.Anything, service.CreateDocumentInput{
		OwnerID:  testUserID,
		Title:    "Q4 report",
		Content:  "Company X revenue grew 20% in Q4.",
		MimeType: "text/plain",
	}).Return(testDocument("doc-1"), nil)

	w := httptest.NewRecorder()
	body := `{"title":"Q4 report","content":"Company X revenue grew 20% in Q4.","mime_type":"text/plain"}`
	NewDocumentHandler(docs, nil).Create(w, asUser(newRequest(http.MethodPost, "/documents", body), testUserID))

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "doc-1", data["id"])
	assert.Equal(t, testUserID, data["owner_id"])
	assert.NotContains(t, data, "content")
	docs.AssertExpectations(t)
}

func TestDocumentHandler_Create_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{`, "invalid request body"},
		{"missing title", `{"content":"x"}`, "title is required"},
		{"missing content", `{"title":"x"}`, "content is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewDocumentHandler(new(MockDocumentService), nil).Create(w, asUser(newRequest(http.MethodPost, "/documents", tt.body), testUserID))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}

func TestDocumentHandler_RequiresUser(t *testing.T) {
	h := NewDocumentHandler(new(MockDocumentService), new(MockIngestionService))
	for name, fn := range map[string]http.HandlerFunc{
		"create":    h.Create,
		"get":       h.Get,
		"list":      h.List,
		"delete":    h.Delete,
		"ingest":    h.Ingest,
		"reprocess": h.Reprocess,
	} {
		w := httptest.NewRecorder()
		fn(w, newRequest(http.MethodPost, "/documents", `{}`))
		assert.Equal(t, http.StatusUnauthorized, w.Code, name)
	}
}

func TestDocumentHandler_Get(t *testing.T) {
	docs := new(MockDocumentService)
	docs.On("Get", mock.Anything, testUserID, "doc-1").Return(testDocument("doc-1"), nil)

	w := httptest.NewRecorder()
	req := withURLParam(asUser(newRequest(http.MethodGet, "/documents/doc-1", ""), testUserID), "id", "doc-1")
	NewDocumentHandler(docs, nil).Get(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "Company X revenue grew 20% in Q4.", data["content"])
	assert.Equal(t, "2026-01-15T09:00:00Z", data["created_at"])
}

func TestDocumentHandler_Get_NotOwner(t *testing.T) {
	docs := new(MockDocumentService)
	docs.On("Get", mock.Anything, testUserID, "doc-2").Return(nil, domain.ErrNotOwner)

	w := httptest.NewRecorder()
	req := withURLParam(asUser(newRequest(http.MethodGet, "/documents/doc-2", ""), testUserID), "id", "doc-2")
	NewDocumentHandler(docs, nil).Get(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDocumentHandler_List_ClampsLimit(t *testing.T) {
	tests := []struct {
		query string
		limit int
	}{
		{"", 20},
		{"?limit=5", 5},
		{"?limit=500", 100},
		{"?limit=abc", 20},
		{"?limit=-1", 20},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			docs := new(MockDocumentService)
			docs.On("List", mock.Anything, service.ListDocumentsInput{OwnerID: testUserID, Limit: tt.limit}).
				Return(&service.ListDocumentsOutput{Items: []*domain.Document{testDocument("doc-1")}, Cursor: "next", HasMore: true}, nil)

			w := httptest.NewRecorder()
			NewDocumentHandler(docs, nil).List(w, asUser(newRequest(http.MethodGet, "/documents"+tt.query, ""), testUserID))

			assert.Equal(t, http.StatusOK, w.Code)
			data := decodeData(t, w)
			assert.Equal(t, "next", data["cursor"])
			assert.Equal(t, true, data["has_more"])
			assert.Len(t, data["items"], 1)
			docs.AssertExpectations(t)
		})
	}
}

func TestDocumentHandler_List_InvalidCursor(t *testing.T) {
	docs := new(MockDocumentService)
	docs.On("List", mock.Anything, mock.Anything).Return(nil, domain.NewDomainError(domain.ErrCodeValidation, "invalid cursor"))

	w := httptest.NewRecorder()
	NewDocumentHandler(docs, nil).List(w, asUser(newRequest(http.MethodGet, "/documents?cursor=bogus", ""), testUserID))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentHandler_Delete(t *testing.T) {
	docs := new(MockDocumentService)
	docs.On("Delete", mock.Anything, testUserID, "doc-1").Return(nil)

	w := httptest.NewRecorder()
	req := withURLParam(asUser(newRequest(http.MethodDelete, "/documents/doc-1", ""), testUserID), "id", "doc-1")
	NewDocumentHandler(docs, nil).Delete(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	docs.AssertExpectations(t)
}

func TestDocumentHandler_Ingest(t *testing.T) {
	docs := new(MockDocumentService)
	ingestion := new(MockIngestionService)
	docs.On("Get", mock.Anything, testUserID, "doc-1").Return(testDocument("doc-1"), nil)
	ingestion.On("Ingest", mock.Anything, "doc-1").Return(3, nil)

	w := httptest.NewRecorder()
	req := withURLParam(asUser(newRequest(http.MethodPost, "/documents/doc-1/ingest", ""), testUserID), "id", "doc-1")
	NewDocumentHandler(docs, ingestion).Ingest(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(3), data["chunks"])
	ingestion.AssertExpectations(t)
}

func TestDocumentHandler_Ingest_ChecksOwnership(t *testing.T) {
	docs := new(MockDocumentService)
	ingestion := new(MockIngestionService)
	docs.On("Get", mock.Anything, testUserID, "doc-9").Return(nil, domain.ErrNotOwner)

	w := httptest.NewRecorder()
	req := withURLParam(asUser(newRequest(http.MethodPost, "/documents/doc-9/ingest", ""), testUserID), "id", "doc-9")
	NewDocumentHandler(docs, ingestion).Ingest(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	ingestion.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
}

func TestDocumentHandler_Reprocess(t *testing.T) {
	ingestion := new(MockIngestionService)
	ingestion.On("Reprocess", mock.Anything, testUserID).Return(&service.ReprocessReport{
		Total:     3,
		Skipped:   1,
		Succeeded: 1,
		Failed:    1,
		Outcomes: []service.DocumentOutcome{
			{DocumentID: "doc-1", Chunks: 2, Attempts: 1},
			{DocumentID: "doc-2", Attempts: 3, Err: errors.New("embedding unavailable")},
		},
	}, nil)

	w := httptest.NewRecorder()
	NewDocumentHandler(nil, ingestion).Reprocess(w, asUser(newRequest(http.MethodPost, "/documents/reprocess", ""), testUserID))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(1), data["failed"])
	assert.Contains(t, w.Body.String(), "embedding unavailable")
}

func TestDocumentHandler_InitAttachment(t *testing.T) {
	docs := new(MockDocumentService)
	docs.On("InitAttachment", mock.Anything, testUserID, "doc-1", "report.pdf", "application/octet-stream").
		Return(&service.AttachmentUpload{DocumentID: "doc-1", StorageKey: "k", UploadURL: "https://s3/presigned"}, nil)

	w := httptest.NewRecorder()
	req := withURLParam(asUser(newRequest(http.MethodPost, "/documents/doc-1/attachment", `{"filename":"report.pdf"}`), testUserID), "id", "doc-1")
	NewDocumentHandler(docs, nil).InitAttachment(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://s3/presigned", decodeData(t, w)["upload_url"])
}

func TestDocumentHandler_CompleteAttachment(t *testing.T) {
	doc := testDocument("doc-1")
	doc.AttachmentKey = "k"
	docs := new(MockDocumentService)
	docs.On("CompleteAttachment", mock.Anything, testUserID, "doc-1", "k").Return(doc, nil)

	w := httptest.NewRecorder()
	req := withURLParam(asUser(newRequest(http.MethodPut, "/documents/doc-1/attachment", `{"storage_key":"k"}`), testUserID), "id", "doc-1")
	NewDocumentHandler(docs, nil).CompleteAttachment(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeData(t, w)["has_attachment"])
}

func TestDocumentHandler_AttachmentURL_Absent(t *testing.T) {
	docs := new(MockDocumentService)
	docs.On("AttachmentURL", mock.Anything, testUserID, "doc-1").Return("", domain.ErrAttachmentAbsent)

	w := httptest.NewRecorder()
	req := withURLParam(asUser(newRequest(http.MethodGet, "/documents/doc-1/attachment", ""), testUserID), "id", "doc-1")
	NewDocumentHandler(docs, nil).AttachmentURL(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
