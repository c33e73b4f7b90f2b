package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/ragquery/internal/domain"
	"github.com/cloo-solutions/ragquery/internal/pagination"
	"github.com/cloo-solutions/ragquery/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const documentColumns = `id, owner_id, title, source, content, attachment_key, mime_type, created_at, updated_at`

type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

func (r *DocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.OwnerID, d.Title, d.Source, d.Content, nullableString(d.AttachmentKey), d.MimeType, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	d, err := scanDocument(r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	return d, nil
}

func (r *DocumentRepository) ListByOwnerWithCursor(ctx context.Context, ownerID string, cursor *pagination.Cursor, limit int) (*service.DocumentPageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+documentColumns+`
			 FROM documents
			 WHERE owner_id = $1 AND (created_at, id) < ($2, $3)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $4`,
			ownerID, cursor.CreatedAt, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+documentColumns+`
			 FROM documents
			 WHERE owner_id = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`,
			ownerID, limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.CreatedAt)
	}

	return &service.DocumentPageResult{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// ListIDsByOwner returns every document id of the owner, oldest first.
func (r *DocumentRepository) ListIDsByOwner(ctx context.Context, ownerID string) ([]string, error) {
	return r.queryIDs(ctx,
		`SELECT id FROM documents WHERE owner_id = $1 ORDER BY created_at ASC, id ASC`,
		ownerID,
	)
}

// ListMissingEmbeddings returns the owner's documents that have no chunks
// or at least one chunk without an embedding.
func (r *DocumentRepository) ListMissingEmbeddings(ctx context.Context, ownerID string) ([]string, error) {
	return r.queryIDs(ctx,
		`SELECT d.id
		 FROM documents d
		 WHERE d.owner_id = $1
		   AND (
		     NOT EXISTS (SELECT 1 FROM chunks c WHERE c.document_id = d.id)
		     OR EXISTS (
		       SELECT 1 FROM chunks c
		       LEFT JOIN embeddings e ON e.chunk_id = c.id
		       WHERE c.document_id = d.id AND e.id IS NULL
		     )
		   )
		 ORDER BY d.created_at ASC, d.id ASC`,
		ownerID,
	)
}

func (r *DocumentRepository) queryIDs(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *DocumentRepository) SetAttachment(ctx context.Context, id, key, mimeType string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE documents SET attachment_key = $1, mime_type = $2, updated_at = $3 WHERE id = $4`,
		nullableString(key), mimeType, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// Delete removes the document together with its embeddings, chunks and
// ingest jobs in one transaction.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM embeddings WHERE document_id = $1`,
			`DELETE FROM chunks WHERE document_id = $1`,
			`DELETE FROM ingest_jobs WHERE document_id = $1`,
		} {
			if _, err := tx.Exec(ctx, stmt, id); err != nil {
				return err
			}
		}

		cmdTag, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if cmdTag.RowsAffected() == 0 {
			return domain.ErrDocumentNotFound
		}
		return nil
	})
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var d domain.Document
	var attachmentKey *string
	if err := row.Scan(&d.ID, &d.OwnerID, &d.Title, &d.Source, &d.Content, &attachmentKey, &d.MimeType, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.AttachmentKey = stringOrEmpty(attachmentKey)
	return &d, nil
}
