package domain

import (
	"fmt"
	"strings"
	"time"
)

// Document is a user-owned source of text. Its content is immutable once
// ingested; reprocessing regenerates chunks, never the document row.
type Document struct {
	ID            string
	OwnerID       string
	Title         string
	Source        string
	Content       string
	AttachmentKey string // Optional object-storage key for the original binary
	MimeType      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewDocument creates a new Document instance
func NewDocument(id, ownerID, title, source, content, mimeType string, createdAt time.Time) *Document {
	return &Document{
		ID:        id,
		OwnerID:   ownerID,
		Title:     title,
		Source:    source,
		Content:   content,
		MimeType:  mimeType,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// HasAttachment reports whether an original binary was uploaded.
func (d *Document) HasAttachment() bool {
	return d.AttachmentKey != ""
}

// ValidateDocument validates a Document instance
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}

	if d.ID == "" {
		return fmt.Errorf("document ID is required")
	}

	if d.OwnerID == "" {
		return fmt.Errorf("document OwnerID is required")
	}

	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("document Title is required")
	}

	if strings.TrimSpace(d.Content) == "" {
		return ErrEmptyDocumentContent
	}

	return nil
}
