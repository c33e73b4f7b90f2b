package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDocument(t *testing.T) {
	now := time.Now()
	doc := NewDocument("doc1", "user1", "Q4 report", "upload", "Revenue grew.", "text/plain", now)

	assert.Equal(t, "doc1", doc.ID)
	assert.Equal(t, "user1", doc.OwnerID)
	assert.Equal(t, now, doc.CreatedAt)
	assert.Equal(t, now, doc.UpdatedAt)
	assert.False(t, doc.HasAttachment())

	doc.AttachmentKey = "documents/doc1/report.pdf"
	assert.True(t, doc.HasAttachment())
}

func TestValidateDocument(t *testing.T) {
	valid := func() *Document {
		return NewDocument("doc1", "user1", "Title", "upload", "Some content", "text/plain", time.Now())
	}

	tests := []struct {
		name   string
		mutate func(d *Document) *Document
		errMsg string
	}{
		{name: "valid", mutate: func(d *Document) *Document { return d }},
		{name: "nil", mutate: func(d *Document) *Document { return nil }, errMsg: "cannot be nil"},
		{name: "missing ID", mutate: func(d *Document) *Document { d.ID = ""; return d }, errMsg: "ID is required"},
		{name: "missing owner", mutate: func(d *Document) *Document { d.OwnerID = ""; return d }, errMsg: "OwnerID is required"},
		{name: "blank title", mutate: func(d *Document) *Document { d.Title = "  "; return d }, errMsg: "Title is required"},
		{name: "blank content", mutate: func(d *Document) *Document { d.Content = "\n\t"; return d }, errMsg: "content is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.mutate(valid()))
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateDocument_EmptyContentIsValidationError(t *testing.T) {
	doc := NewDocument("doc1", "user1", "Title", "", "", "", time.Now())
	err := ValidateDocument(doc)
	assert.True(t, errors.Is(err, ErrEmptyDocumentContent))
	assert.Equal(t, ErrCodeValidation, CodeOf(err))
}

func TestValidateEmbeddedChunks(t *testing.T) {
	item := func(i int) EmbeddedChunk {
		return EmbeddedChunk{
			Chunk:     Chunk{Index: i, DocumentID: "doc1", OwnerID: "user1", Content: "text"},
			Embedding: Embedding{DocumentID: "doc1", OwnerID: "user1", Vector: []float32{0.1}},
		}
	}

	assert.NoError(t, ValidateEmbeddedChunks("doc1", "user1", nil))
	assert.NoError(t, ValidateEmbeddedChunks("doc1", "user1", []EmbeddedChunk{item(0), item(1)}))

	gap := []EmbeddedChunk{item(0), item(2)}
	assert.ErrorContains(t, ValidateEmbeddedChunks("doc1", "user1", gap), "out of order")

	noVector := []EmbeddedChunk{item(0)}
	noVector[0].Embedding.Vector = nil
	assert.ErrorContains(t, ValidateEmbeddedChunks("doc1", "user1", noVector), "no embedding")

	foreign := []EmbeddedChunk{item(0)}
	foreign[0].Chunk.OwnerID = "user2"
	assert.ErrorContains(t, ValidateEmbeddedChunks("doc1", "user1", foreign), "different owner")

	otherDoc := []EmbeddedChunk{item(0)}
	otherDoc[0].Embedding.DocumentID = "doc2"
	assert.ErrorContains(t, ValidateEmbeddedChunks("doc1", "user1", otherDoc), "different document")
}

func TestTruncateAnswer(t *testing.T) {
	short := "short answer"
	assert.Equal(t, short, TruncateAnswer(short))

	long := make([]rune, MaxRecordedAnswerRunes+50)
	for i := range long {
		long[i] = 'é'
	}
	out := TruncateAnswer(string(long))
	assert.Equal(t, MaxRecordedAnswerRunes, len([]rune(out)))
}

func TestDomainError_CodeOf(t *testing.T) {
	wrapped := NewDomainErrorWithCause(ErrCodeEmbed, "embedding failed", errors.New("timeout"))
	assert.Equal(t, ErrCodeEmbed, CodeOf(wrapped))
	assert.Equal(t, "[EMBED_500] embedding failed: timeout", wrapped.Error())
	assert.Equal(t, "", CodeOf(errors.New("plain")))
}
