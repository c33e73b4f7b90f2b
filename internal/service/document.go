package service

import (
	"context"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/cloo-solutions/ragquery/internal/domain"
	"github.com/cloo-solutions/ragquery/internal/pagination"
	"github.com/cloo-solutions/ragquery/internal/telemetry"
	"github.com/google/uuid"
)

// DocumentRepositoryInterface defines the repository interface for document persistence
type DocumentRepositoryInterface interface {
	Create(ctx context.Context, d *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListByOwnerWithCursor(ctx context.Context, ownerID string, cursor *pagination.Cursor, limit int) (*DocumentPageResult, error)
	SetAttachment(ctx context.Context, id, key, mimeType string) error
	Delete(ctx context.Context, id string) error
}

type DocumentPageResult struct {
	Items      []*domain.Document
	NextCursor string
	HasMore    bool
}

// IngestJobRepositoryInterface defines the repository interface for ingest job persistence
type IngestJobRepositoryInterface interface {
	Create(ctx context.Context, job *domain.IngestJob) error
}

// StorageClientInterface is the object store holding document attachments.
type StorageClientInterface interface {
	GenerateUploadURL(ctx context.Context, key string, contentType string) (string, error)
	GenerateDownloadURL(ctx context.Context, key string) (string, error)
	DeleteObject(ctx context.Context, key string) error
	HeadObject(ctx context.Context, key string) (*ObjectMetadata, error)
}

type ObjectMetadata struct {
	ContentLength int64
	ContentType   string
	ETag          string
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// DocumentService manages a user's documents and their attachments.
type DocumentService struct {
	docRepo  DocumentRepositoryInterface
	jobRepo  IngestJobRepositoryInterface
	storage  StorageClientInterface
	txRunner TxRunner
	uuidGen  UUIDGenerator
}

// NewDocumentService creates a DocumentService. storage and txRunner may be
// nil; without a TxRunner the document and its ingest job are written one
// after the other.
func NewDocumentService(
	docRepo DocumentRepositoryInterface,
	jobRepo IngestJobRepositoryInterface,
	storage StorageClientInterface,
	txRunner TxRunner,
) *DocumentService {
	return NewDocumentServiceWithUUIDGen(docRepo, jobRepo, storage, txRunner, &DefaultUUIDGenerator{})
}

func NewDocumentServiceWithUUIDGen(
	docRepo DocumentRepositoryInterface,
	jobRepo IngestJobRepositoryInterface,
	storage StorageClientInterface,
	txRunner TxRunner,
	uuidGen UUIDGenerator,
) *DocumentService {
	return &DocumentService{
		docRepo:  docRepo,
		jobRepo:  jobRepo,
		storage:  storage,
		txRunner: txRunner,
		uuidGen:  uuidGen,
	}
}

type CreateDocumentInput struct {
	OwnerID  string
	Title    string
	Source   string
	Content  string
	MimeType string
}

type ListDocumentsInput struct {
	OwnerID string
	Cursor  string
	Limit   int
}

type ListDocumentsOutput struct {
	Items   []*domain.Document
	Cursor  string
	HasMore bool
}

// Create stores a document and queues it for ingestion.
func (s *DocumentService) Create(ctx context.Context, input CreateDocumentInput) (*domain.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "DocumentService.Create", telemetry.SpanAttributes{
		UserID:    input.OwnerID,
		Operation: "create",
	})
	defer span.End()

	mimeType := input.MimeType
	if mimeType == "" {
		mimeType = "text/plain"
	}

	now := time.Now().UTC()
	doc := domain.NewDocument(s.uuidGen.NewString(), input.OwnerID, strings.TrimSpace(input.Title),
		input.Source, input.Content, mimeType, now)
	if err := domain.ValidateDocument(doc); err != nil {
		if domain.CodeOf(err) == "" {
			err = domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid document", err)
		}
		return nil, err
	}

	job := domain.NewIngestJob(s.uuidGen.NewString(), doc.ID, domain.IngestJobStatusPending, 0, "", now, nil)

	if s.txRunner != nil {
		err := s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
			if err := repos.Documents().Create(ctx, doc); err != nil {
				return fmt.Errorf("failed to create document: %w", err)
			}
			if err := repos.IngestJobs().Create(ctx, job); err != nil {
				return fmt.Errorf("failed to queue ingest job: %w", err)
			}
			return nil
		})
		if err != nil {
			span.SetError(err)
			return nil, err
		}
		return doc, nil
	}

	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	if s.jobRepo != nil {
		if err := s.jobRepo.Create(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to queue ingest job: %w", err)
		}
	}
	return doc, nil
}

// Get returns the document if it belongs to ownerID.
func (s *DocumentService) Get(ctx context.Context, ownerID, id string) (*domain.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "DocumentService.Get", telemetry.SpanAttributes{
		UserID:     ownerID,
		DocumentID: id,
		Operation:  "get",
	})
	defer span.End()

	doc, err := s.docRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, domain.ErrNotOwner
	}
	return doc, nil
}

func (s *DocumentService) List(ctx context.Context, input ListDocumentsInput) (*ListDocumentsOutput, error) {
	cursor, err := pagination.DecodeCursor(input.Cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	page, err := s.docRepo.ListByOwnerWithCursor(ctx, input.OwnerID, cursor, limit)
	if err != nil {
		return nil, err
	}
	return &ListDocumentsOutput{
		Items:   page.Items,
		Cursor:  page.NextCursor,
		HasMore: page.HasMore,
	}, nil
}

// Delete removes the document with its chunks and embeddings. A stored
// attachment is removed afterwards on a best-effort basis.
func (s *DocumentService) Delete(ctx context.Context, ownerID, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "DocumentService.Delete", telemetry.SpanAttributes{
		UserID:     ownerID,
		DocumentID: id,
		Operation:  "delete",
	})
	defer span.End()

	doc, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}

	if err := s.docRepo.Delete(ctx, id); err != nil {
		span.SetError(err)
		return err
	}

	if doc.HasAttachment() && s.storage != nil {
		if err := s.storage.DeleteObject(ctx, doc.AttachmentKey); err != nil {
			log.Printf("[documents] failed to delete attachment %s of document %s: %v", doc.AttachmentKey, id, err)
		}
	}
	return nil
}

type AttachmentUpload struct {
	DocumentID string
	StorageKey string
	UploadURL  string
}

// InitAttachment returns a presigned URL the client uploads the original
// binary to. The document only references the object once
// CompleteAttachment has verified it.
func (s *DocumentService) InitAttachment(ctx context.Context, ownerID, id, filename, contentType string) (*AttachmentUpload, error) {
	if err := s.requireStorage(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(filename) == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "filename is required")
	}
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}

	key := AttachmentKey(ownerID, id, filename)
	url, err := s.storage.GenerateUploadURL(ctx, key, contentType)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to generate upload URL", err)
	}
	return &AttachmentUpload{DocumentID: id, StorageKey: key, UploadURL: url}, nil
}

// CompleteAttachment records the uploaded object on the document.
func (s *DocumentService) CompleteAttachment(ctx context.Context, ownerID, id, key string) (*domain.Document, error) {
	if err := s.requireStorage(); err != nil {
		return nil, err
	}
	doc, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(key, attachmentPrefix(ownerID, id)) {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "storage key does not belong to this document")
	}

	meta, err := s.storage.HeadObject(ctx, key)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "attachment was not uploaded", err)
	}

	mimeType := meta.ContentType
	if mimeType == "" {
		mimeType = doc.MimeType
	}
	if err := s.docRepo.SetAttachment(ctx, id, key, mimeType); err != nil {
		return nil, err
	}

	if doc.HasAttachment() && doc.AttachmentKey != key {
		if err := s.storage.DeleteObject(ctx, doc.AttachmentKey); err != nil {
			log.Printf("[documents] failed to delete replaced attachment %s: %v", doc.AttachmentKey, err)
		}
	}

	doc.AttachmentKey = key
	doc.MimeType = mimeType
	return doc, nil
}

// AttachmentURL returns a presigned download URL for the document's
// original binary.
func (s *DocumentService) AttachmentURL(ctx context.Context, ownerID, id string) (string, error) {
	if err := s.requireStorage(); err != nil {
		return "", err
	}
	doc, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return "", err
	}
	if !doc.HasAttachment() {
		return "", domain.ErrAttachmentAbsent
	}
	url, err := s.storage.GenerateDownloadURL(ctx, doc.AttachmentKey)
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to generate download URL", err)
	}
	return url, nil
}

func (s *DocumentService) requireStorage() error {
	if s.storage == nil {
		return domain.NewDomainError(domain.ErrCodeInvalidOperation, "attachment storage is not configured")
	}
	return nil
}

// AttachmentKey is the object key of a document's attachment.
func AttachmentKey(ownerID, documentID, filename string) string {
	return attachmentPrefix(ownerID, documentID) + path.Base(strings.ReplaceAll(filename, "\\", "/"))
}

func attachmentPrefix(ownerID, documentID string) string {
	return fmt.Sprintf("documents/%s/%s/", ownerID, documentID)
}
