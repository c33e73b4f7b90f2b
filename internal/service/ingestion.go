package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloo-solutions/ragquery/internal/chunker"
	"github.com/cloo-solutions/ragquery/internal/domain"
	"github.com/cloo-solutions/ragquery/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// pageBreak separates pages in extracted text.
const pageBreak = "\f"

// EmbeddingClient generates one vector per input text, in input order.
type EmbeddingClient interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// IngestDocumentRepository is the document access ingestion needs.
type IngestDocumentRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListIDsByOwner(ctx context.Context, ownerID string) ([]string, error)
	ListMissingEmbeddings(ctx context.Context, ownerID string) ([]string, error)
}

// ChunkRepositoryInterface replaces a document's chunks and embeddings as
// one unit.
type ChunkRepositoryInterface interface {
	ReplaceChunks(ctx context.Context, documentID, ownerID string, items []domain.EmbeddedChunk) error
}

type IngestionConfig struct {
	Chunker chunker.Chunker
	// Workers bounds how many documents Reprocess ingests at once.
	Workers int
	Retry   RetryPolicy
}

// IngestionService chunks documents, embeds the chunks and stores both.
type IngestionService struct {
	docRepo   IngestDocumentRepository
	chunkRepo ChunkRepositoryInterface
	embedder  EmbeddingClient
	chunker   chunker.Chunker
	workers   int
	retry     RetryPolicy
	uuidGen   UUIDGenerator
}

func NewIngestionService(
	docRepo IngestDocumentRepository,
	chunkRepo ChunkRepositoryInterface,
	embedder EmbeddingClient,
	cfg IngestionConfig,
) *IngestionService {
	return NewIngestionServiceWithUUIDGen(docRepo, chunkRepo, embedder, cfg, &DefaultUUIDGenerator{})
}

func NewIngestionServiceWithUUIDGen(
	docRepo IngestDocumentRepository,
	chunkRepo ChunkRepositoryInterface,
	embedder EmbeddingClient,
	cfg IngestionConfig,
	uuidGen UUIDGenerator,
) *IngestionService {
	c := cfg.Chunker
	if c == nil {
		c = chunker.ChunkerFunc(func(text string) chunker.Result {
			return chunker.Semantic(text, chunker.DefaultConfig())
		})
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}
	return &IngestionService{
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
		embedder:  embedder,
		chunker:   c,
		workers:   workers,
		retry:     retry,
		uuidGen:   uuidGen,
	}
}

// Ingest (re)builds the chunks and embeddings of one document and returns
// the number of chunks stored. Previous chunks are replaced atomically, so
// search sees either the old set or the new one.
func (s *IngestionService) Ingest(ctx context.Context, documentID string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.Ingest", telemetry.SpanAttributes{
		DocumentID: documentID,
		Operation:  "ingest",
	})
	defer span.End()

	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		span.SetError(err)
		return 0, err
	}

	chunks := s.split(doc)
	items := make([]domain.EmbeddedChunk, len(chunks))

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}

		vectors, err := s.embedder.GenerateEmbeddings(ctx, texts)
		if err != nil {
			span.SetError(err)
			return 0, fmt.Errorf("failed to embed chunks of document %s: %w", documentID, err)
		}
		if len(vectors) != len(chunks) {
			return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
		}

		now := time.Now().UTC()
		for i, c := range chunks {
			c.CreatedAt = now
			items[i] = domain.EmbeddedChunk{
				Chunk: c,
				Embedding: domain.Embedding{
					ID:         s.uuidGen.NewString(),
					ChunkID:    c.ID,
					DocumentID: doc.ID,
					OwnerID:    doc.OwnerID,
					Vector:     vectors[i],
					Metadata:   map[string]any{"chunk_index": c.Index},
					CreatedAt:  now,
				},
			}
		}
	}

	if err := s.chunkRepo.ReplaceChunks(ctx, doc.ID, doc.OwnerID, items); err != nil {
		span.SetError(err)
		return 0, fmt.Errorf("failed to store chunks of document %s: %w", documentID, err)
	}

	span.SetData("chunks", len(items))
	return len(items), nil
}

// split chunks every page of the document separately so a chunk never
// spans a page break. Offsets are relative to the normalized page text.
func (s *IngestionService) split(doc *domain.Document) []domain.Chunk {
	pages := strings.Split(doc.Content, pageBreak)
	paged := len(pages) > 1

	var out []domain.Chunk
	for p, page := range pages {
		res := s.chunker.Chunk(page)
		for _, seg := range res.Segments {
			start, end := seg.Start, seg.End
			c := domain.Chunk{
				ID:         s.uuidGen.NewString(),
				DocumentID: doc.ID,
				OwnerID:    doc.OwnerID,
				Index:      len(out),
				Content:    seg.Text,
				CharStart:  &start,
				CharEnd:    &end,
				Metadata:   map[string]any{"title": doc.Title},
			}
			if paged {
				pageNo := p + 1
				c.PageNo = &pageNo
			}
			out = append(out, c)
		}
	}
	return out
}

// DocumentOutcome is the result of reprocessing one document.
type DocumentOutcome struct {
	DocumentID string
	Chunks     int
	Attempts   int
	Err        error
}

// ReprocessReport summarizes a reprocessing run.
type ReprocessReport struct {
	Total     int
	Skipped   int
	Succeeded int
	Failed    int
	Outcomes  []DocumentOutcome
}

// Reprocess reruns ingestion for every document of ownerID that lacks
// embeddings. Documents are processed concurrently; a failing document is
// reported in its outcome and does not abort the others.
func (s *IngestionService) Reprocess(ctx context.Context, ownerID string) (*ReprocessReport, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.Reprocess", telemetry.SpanAttributes{
		UserID:    ownerID,
		Operation: "reprocess",
	})
	defer span.End()

	all, err := s.docRepo.ListIDsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	pending, err := s.docRepo.ListMissingEmbeddings(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	report := &ReprocessReport{
		Total:    len(all),
		Skipped:  len(all) - len(pending),
		Outcomes: make([]DocumentOutcome, len(pending)),
	}

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, id := range pending {
		g.Go(func() error {
			outcome := DocumentOutcome{DocumentID: id}
			outcome.Attempts, outcome.Err = s.retry.Do(ctx, func(ctx context.Context) error {
				n, err := s.Ingest(ctx, id)
				outcome.Chunks = n
				return err
			})
			if outcome.Err != nil {
				log.Printf("[ingest] reprocessing document %s failed after %d attempt(s): %v", id, outcome.Attempts, outcome.Err)
			}
			report.Outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range report.Outcomes {
		if o.Err != nil {
			report.Failed++
		} else {
			report.Succeeded++
		}
	}
	span.SetData("failed", report.Failed)
	return report, nil
}
