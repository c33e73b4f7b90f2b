package repository

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/ragquery/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository persists chunks with their embeddings and serves
// similarity search.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// ReplaceChunks deletes the document's existing chunks and embeddings and
// inserts the new set in the same transaction, so search sees either the
// old set or the new one and never a chunk without its vector.
func (r *ChunkRepository) ReplaceChunks(ctx context.Context, documentID, ownerID string, items []domain.EmbeddedChunk) error {
	if err := domain.ValidateEmbeddedChunks(documentID, ownerID, items); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid chunk set", err)
	}

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM embeddings WHERE document_id = $1`, documentID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, item := range items {
			c, e := item.Chunk, item.Embedding
			batch.Queue(
				`INSERT INTO chunks (id, document_id, owner_id, chunk_index, content, page_no, char_start, char_end, metadata, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				c.ID, c.DocumentID, c.OwnerID, c.Index, c.Content, c.PageNo, c.CharStart, c.CharEnd, metadataOrEmpty(c.Metadata), c.CreatedAt,
			)
			batch.Queue(
				`INSERT INTO embeddings (id, chunk_id, document_id, owner_id, embedding, metadata, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				e.ID, c.ID, e.DocumentID, e.OwnerID, pgvector.NewVector(e.Vector), metadataOrEmpty(e.Metadata), e.CreatedAt,
			)
		}

		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("insert chunk %d: %w", i/2, err)
			}
		}
		return results.Close()
	})
}

// SearchSimilar returns up to k chunks of ownerID's documents ordered by
// cosine similarity to vector. Rows of other owners are never returned.
func (r *ChunkRepository) SearchSimilar(ctx context.Context, ownerID string, vector []float32, k int) ([]domain.RetrievalCandidate, error) {
	if k <= 0 {
		return []domain.RetrievalCandidate{}, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT c.id, c.chunk_index, c.document_id, d.title, c.owner_id, c.content, c.page_no,
		        1 - (e.embedding <=> $2) AS similarity
		 FROM embeddings e
		 JOIN chunks c ON c.id = e.chunk_id
		 JOIN documents d ON d.id = e.document_id
		 WHERE e.owner_id = $1 AND d.owner_id = $1
		 ORDER BY e.embedding <=> $2
		 LIMIT $3`,
		ownerID, pgvector.NewVector(vector), k,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates := []domain.RetrievalCandidate{}
	for rows.Next() {
		var c domain.RetrievalCandidate
		if err := rows.Scan(&c.ChunkID, &c.ChunkIndex, &c.DocumentID, &c.DocumentTitle, &c.OwnerID, &c.Content, &c.PageNo, &c.Similarity); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// CountByDocument returns the number of chunks of a document and how many of
// them have an embedding.
func (r *ChunkRepository) CountByDocument(ctx context.Context, documentID string) (chunks, embedded int, err error) {
	err = r.db.QueryRow(ctx,
		`SELECT count(c.id), count(e.id)
		 FROM chunks c
		 LEFT JOIN embeddings e ON e.chunk_id = c.id
		 WHERE c.document_id = $1`,
		documentID,
	).Scan(&chunks, &embedded)
	return chunks, embedded, err
}

// ListByDocument returns a document's chunks in index order.
func (r *ChunkRepository) ListByDocument(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, document_id, owner_id, chunk_index, content, page_no, char_start, char_end, metadata, created_at
		 FROM chunks WHERE document_id = $1 ORDER BY chunk_index ASC`,
		documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := []domain.Chunk{}
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.OwnerID, &c.Index, &c.Content, &c.PageNo, &c.CharStart, &c.CharEnd, &c.Metadata, &c.CreatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
