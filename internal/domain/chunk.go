package domain

import (
	"fmt"
	"time"
)

// Chunk is a contiguous span of a document's text and the unit of retrieval.
// Index is 0-based and contiguous per document.
type Chunk struct {
	ID         string
	DocumentID string
	OwnerID    string
	Index      int
	Content    string
	PageNo     *int
	CharStart  *int
	CharEnd    *int
	Metadata   map[string]any
	CreatedAt  time.Time
}

// Embedding belongs to exactly one chunk. DocumentID and OwnerID are
// denormalized so search can filter without a join.
type Embedding struct {
	ID         string
	ChunkID    string
	DocumentID string
	OwnerID    string
	Vector     []float32
	Metadata   map[string]any
	CreatedAt  time.Time
}

// EmbeddedChunk pairs a chunk with its embedding. The pair is written as one
// unit so that search never sees a chunk without a vector.
type EmbeddedChunk struct {
	Chunk     Chunk
	Embedding Embedding
}

// RetrievalCandidate is a chunk joined with its similarity to a query and its
// document metadata. It only lives for the duration of one query.
type RetrievalCandidate struct {
	ChunkID       string
	ChunkIndex    int
	DocumentID    string
	DocumentTitle string
	OwnerID       string
	Content       string
	PageNo        *int
	Similarity    float64
}

// ValidateEmbeddedChunks checks that a replacement set is well formed:
// contiguous 0-based indexes, one vector per chunk, one document and owner.
func ValidateEmbeddedChunks(documentID, ownerID string, items []EmbeddedChunk) error {
	for i, item := range items {
		if item.Chunk.Index != i {
			return fmt.Errorf("chunk index %d out of order at position %d", item.Chunk.Index, i)
		}
		if item.Chunk.DocumentID != documentID || item.Embedding.DocumentID != documentID {
			return fmt.Errorf("chunk %d belongs to a different document", i)
		}
		if item.Chunk.OwnerID != ownerID || item.Embedding.OwnerID != ownerID {
			return fmt.Errorf("chunk %d belongs to a different owner", i)
		}
		if len(item.Embedding.Vector) == 0 {
			return fmt.Errorf("chunk %d has no embedding", i)
		}
		if item.Chunk.Content == "" {
			return fmt.Errorf("chunk %d has no content", i)
		}
	}
	return nil
}
