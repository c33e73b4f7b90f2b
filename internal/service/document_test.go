package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloo-solutions/ragquery/internal/domain"
	"github.com/cloo-solutions/ragquery/internal/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockDocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) ListByOwnerWithCursor(ctx context.Context, ownerID string, cursor *pagination.Cursor, limit int) (*DocumentPageResult, error) {
	args := m.Called(ctx, ownerID, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DocumentPageResult), args.Error(1)
}

func (m *MockDocumentRepository) ListIDsByOwner(ctx context.Context, ownerID string) ([]string, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDocumentRepository) ListMissingEmbeddings(ctx context.Context, ownerID string) ([]string, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDocumentRepository) SetAttachment(ctx context.Context, id, key, mimeType string) error {
	args := m.Called(ctx, id, key, mimeType)
	return args.Error(0)
}

func (m *MockDocumentRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockIngestJobRepository struct {
	mock.Mock
}

func (m *MockIngestJobRepository) Create(ctx context.Context, job *domain.IngestJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

type MockStorageClient struct {
	mock.Mock
}

func (m *MockStorageClient) GenerateUploadURL(ctx context.Context, key string, contentType string) (string, error) {
	args := m.Called(ctx, key, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockStorageClient) GenerateDownloadURL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockStorageClient) DeleteObject(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStorageClient) HeadObject(ctx context.Context, key string) (*ObjectMetadata, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ObjectMetadata), args.Error(1)
}

func testDocument(id, owner string) *domain.Document {
	return domain.NewDocument(id, owner, "Q4 report", "upload", "Company X revenue grew 20% in Q4.", "text/plain", time.Now())
}

func TestDocumentService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("creates document and queues ingest job in one transaction", func(t *testing.T) {
		docs := new(MockDocumentRepository)
		jobs := new(MockIngestJobRepository)
		tx := &inlineTx{docs: docs, jobs: jobs}
		svc := NewDocumentServiceWithUUIDGen(nil, nil, nil, tx, NewMockUUIDGenerator("doc-1", "job-1"))

		docs.On("Create", mock.Anything, mock.MatchedBy(func(d *domain.Document) bool {
			return d.ID == "doc-1" && d.OwnerID == "user-1" && d.Title == "Q4 report" && d.MimeType == "text/plain"
		})).Return(nil)
		jobs.On("Create", mock.Anything, mock.MatchedBy(func(j *domain.IngestJob) bool {
			return j.ID == "job-1" && j.DocumentID == "doc-1" && j.Status == domain.IngestJobStatusPending
		})).Return(nil)

		doc, err := svc.Create(ctx, CreateDocumentInput{
			OwnerID: "user-1",
			Title:   " Q4 report ",
			Content: "Company X revenue grew 20% in Q4.",
		})

		require.NoError(t, err)
		assert.Equal(t, "doc-1", doc.ID)
		assert.Equal(t, 1, tx.calls)
		docs.AssertExpectations(t)
		jobs.AssertExpectations(t)
	})

	t.Run("job failure surfaces from the transaction", func(t *testing.T) {
		docs := new(MockDocumentRepository)
		jobs := new(MockIngestJobRepository)
		tx := &inlineTx{docs: docs, jobs: jobs}
		svc := NewDocumentServiceWithUUIDGen(nil, nil, nil, tx, NewMockUUIDGenerator("doc-1", "job-1"))

		docs.On("Create", mock.Anything, mock.Anything).Return(nil)
		jobs.On("Create", mock.Anything, mock.Anything).Return(errors.New("insert failed"))

		_, err := svc.Create(ctx, CreateDocumentInput{OwnerID: "user-1", Title: "T", Content: "text"})

		assert.ErrorContains(t, err, "failed to queue ingest job")
	})

	t.Run("without a tx runner writes sequentially", func(t *testing.T) {
		docs := new(MockDocumentRepository)
		jobs := new(MockIngestJobRepository)
		svc := NewDocumentServiceWithUUIDGen(docs, jobs, nil, nil, NewMockUUIDGenerator("doc-1", "job-1"))

		docs.On("Create", mock.Anything, mock.Anything).Return(nil)
		jobs.On("Create", mock.Anything, mock.Anything).Return(nil)

		_, err := svc.Create(ctx, CreateDocumentInput{OwnerID: "user-1", Title: "T", Content: "text", MimeType: "text/markdown"})

		require.NoError(t, err)
		docs.AssertExpectations(t)
		jobs.AssertExpectations(t)
	})

	t.Run("empty content is a validation error", func(t *testing.T) {
		docs := new(MockDocumentRepository)
		svc := NewDocumentServiceWithUUIDGen(docs, nil, nil, nil, NewMockUUIDGenerator())

		_, err := svc.Create(ctx, CreateDocumentInput{OwnerID: "user-1", Title: "T", Content: "  \n"})

		assert.Equal(t, domain.ErrCodeValidation, domain.CodeOf(err))
		docs.AssertNotCalled(t, "Create")
	})

	t.Run("missing title is a validation error", func(t *testing.T) {
		svc := NewDocumentServiceWithUUIDGen(new(MockDocumentRepository), nil, nil, nil, NewMockUUIDGenerator("doc-1"))

		_, err := svc.Create(ctx, CreateDocumentInput{OwnerID: "user-1", Content: "text"})

		assert.Equal(t, domain.ErrCodeValidation, domain.CodeOf(err))
	})
}

func TestDocumentService_Get_EnforcesOwnership(t *testing.T) {
	ctx := context.Background()
	docs := new(MockDocumentRepository)
	svc := NewDocumentService(docs, nil, nil, nil)
	docs.On("GetByID", mock.Anything, "doc-1").Return(testDocument("doc-1", "user-1"), nil)

	doc, err := svc.Get(ctx, "user-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)

	_, err = svc.Get(ctx, "user-2", "doc-1")
	assert.ErrorIs(t, err, domain.ErrNotOwner)
}

func TestDocumentService_List(t *testing.T) {
	ctx := context.Background()
	docs := new(MockDocumentRepository)
	svc := NewDocumentService(docs, nil, nil, nil)

	docs.On("ListByOwnerWithCursor", mock.Anything, "user-1", (*pagination.Cursor)(nil), maxPageSize).Return(&DocumentPageResult{
		Items:      []*domain.Document{testDocument("doc-1", "user-1")},
		NextCursor: "next",
		HasMore:    true,
	}, nil)

	out, err := svc.List(ctx, ListDocumentsInput{OwnerID: "user-1", Limit: 1000})

	require.NoError(t, err)
	assert.Len(t, out.Items, 1)
	assert.Equal(t, "next", out.Cursor)
	assert.True(t, out.HasMore)

	_, err = svc.List(ctx, ListDocumentsInput{OwnerID: "user-1", Cursor: "%%%"})
	assert.Equal(t, domain.ErrCodeValidation, domain.CodeOf(err))
}

func TestDocumentService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes document and attachment", func(t *testing.T) {
		docs := new(MockDocumentRepository)
		storage := new(MockStorageClient)
		svc := NewDocumentService(docs, nil, storage, nil)

		doc := testDocument("doc-1", "user-1")
		doc.AttachmentKey = "documents/user-1/doc-1/report.pdf"
		docs.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
		docs.On("Delete", mock.Anything, "doc-1").Return(nil)
		storage.On("DeleteObject", mock.Anything, doc.AttachmentKey).Return(errors.New("s3 unavailable"))

		require.NoError(t, svc.Delete(ctx, "user-1", "doc-1"))
		docs.AssertExpectations(t)
		storage.AssertExpectations(t)
	})

	t.Run("refuses another owner's document", func(t *testing.T) {
		docs := new(MockDocumentRepository)
		svc := NewDocumentService(docs, nil, nil, nil)
		docs.On("GetByID", mock.Anything, "doc-1").Return(testDocument("doc-1", "user-1"), nil)

		err := svc.Delete(ctx, "user-2", "doc-1")

		assert.ErrorIs(t, err, domain.ErrNotOwner)
		docs.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("not found", func(t *testing.T) {
		docs := new(MockDocumentRepository)
		svc := NewDocumentService(docs, nil, nil, nil)
		docs.On("GetByID", mock.Anything, "missing").Return(nil, domain.ErrDocumentNotFound)

		assert.ErrorIs(t, svc.Delete(ctx, "user-1", "missing"), domain.ErrDocumentNotFound)
	})
}

func TestDocumentService_Attachments(t *testing.T) {
	ctx := context.Background()

	t.Run("init presigns an upload under the document prefix", func(t *testing.T) {
		docs := new(MockDocumentRepository)
		storage := new(MockStorageClient)
		svc := NewDocumentService(docs, nil, storage, nil)

		docs.On("GetByID", mock.Anything, "doc-1").Return(testDocument("doc-1", "user-1"), nil)
		storage.On("GenerateUploadURL", mock.Anything, "documents/user-1/doc-1/report.pdf", "application/pdf").
			Return("https://storage.example.com/upload", nil)

		upload, err := svc.InitAttachment(ctx, "user-1", "doc-1", "../../report.pdf", "application/pdf")

		require.NoError(t, err)
		assert.Equal(t, "documents/user-1/doc-1/report.pdf", upload.StorageKey)
		assert.Equal(t, "https://storage.example.com/upload", upload.UploadURL)
	})

	t.Run("complete verifies the object and records it", func(t *testing.T) {
		docs := new(MockDocumentRepository)
		storage := new(MockStorageClient)
		svc := NewDocumentService(docs, nil, storage, nil)
		key := "documents/user-1/doc-1/report.pdf"

		docs.On("GetByID", mock.Anything, "doc-1").Return(testDocument("doc-1", "user-1"), nil)
		storage.On("HeadObject", mock.Anything, key).Return(&ObjectMetadata{ContentType: "application/pdf", ContentLength: 42}, nil)
		docs.On("SetAttachment", mock.Anything, "doc-1", key, "application/pdf").Return(nil)

		doc, err := svc.CompleteAttachment(ctx, "user-1", "doc-1", key)

		require.NoError(t, err)
		assert.Equal(t, key, doc.AttachmentKey)
		assert.Equal(t, "application/pdf", doc.MimeType)
		docs.AssertExpectations(t)
	})

	t.Run("complete rejects keys of other documents", func(t *testing.T) {
		docs := new(MockDocumentRepository)
		storage := new(MockStorageClient)
		svc := NewDocumentService(docs, nil, storage, nil)
		docs.On("GetByID", mock.Anything, "doc-1").Return(testDocument("doc-1", "user-1"), nil)

		_, err := svc.CompleteAttachment(ctx, "user-1", "doc-1", "documents/user-2/doc-9/x.pdf")

		assert.Equal(t, domain.ErrCodeValidation, domain.CodeOf(err))
		storage.AssertNotCalled(t, "HeadObject", mock.Anything, mock.Anything)
	})

	t.Run("download url requires an attachment", func(t *testing.T) {
		docs := new(MockDocumentRepository)
		storage := new(MockStorageClient)
		svc := NewDocumentService(docs, nil, storage, nil)
		docs.On("GetByID", mock.Anything, "doc-1").Return(testDocument("doc-1", "user-1"), nil)

		_, err := svc.AttachmentURL(ctx, "user-1", "doc-1")

		assert.ErrorIs(t, err, domain.ErrAttachmentAbsent)
	})

	t.Run("download url", func(t *testing.T) {
		docs := new(MockDocumentRepository)
		storage := new(MockStorageClient)
		svc := NewDocumentService(docs, nil, storage, nil)
		doc := testDocument("doc-1", "user-1")
		doc.AttachmentKey = "documents/user-1/doc-1/report.pdf"
		docs.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
		storage.On("GenerateDownloadURL", mock.Anything, doc.AttachmentKey).Return("https://storage.example.com/download", nil)

		url, err := svc.AttachmentURL(ctx, "user-1", "doc-1")

		require.NoError(t, err)
		assert.Equal(t, "https://storage.example.com/download", url)
	})

	t.Run("storage not configured", func(t *testing.T) {
		svc := NewDocumentService(new(MockDocumentRepository), nil, nil, nil)

		_, err := svc.InitAttachment(ctx, "user-1", "doc-1", "a.pdf", "application/pdf")

		assert.Equal(t, domain.ErrCodeInvalidOperation, domain.CodeOf(err))
	})
}
