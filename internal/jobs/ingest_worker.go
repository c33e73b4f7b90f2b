package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/cloo-solutions/ragquery/internal/domain"
)

const (
	// MaxRetries is the maximum number of attempts for an ingest job
	MaxRetries = 3

	claimBatch = 100
)

// IngestJobRepository claims and updates ingest jobs
type IngestJobRepository interface {
	// ClaimPending moves up to limit pending jobs to processing
	ClaimPending(ctx context.Context, limit int) ([]*domain.IngestJob, error)

	UpdateStatus(ctx context.Context, jobID string, status domain.IngestJobStatus, errMsg string) error

	IncrementRetries(ctx context.Context, jobID string) error
}

// Ingester chunks and embeds one document
type Ingester interface {
	Ingest(ctx context.Context, documentID string) (int, error)
}

// IngestWorker turns pending ingest jobs into stored chunks and embeddings
type IngestWorker struct {
	repo     IngestJobRepository
	ingester Ingester
}

// NewIngestWorker creates a new IngestWorker instance
func NewIngestWorker(repo IngestJobRepository, ingester Ingester) *IngestWorker {
	return &IngestWorker{
		repo:     repo,
		ingester: ingester,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *IngestWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.repo.ClaimPending(ctx, claimBatch)
	if err != nil {
		return fmt.Errorf("failed to fetch pending jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("[ingest] processing %d pending jobs", len(jobs))

	for _, job := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.processJob(ctx, job); err != nil {
			log.Printf("[ingest] error processing job %s: %v", job.ID, err)
		}
	}

	return nil
}

func (w *IngestWorker) processJob(ctx context.Context, job *domain.IngestJob) error {
	if job.DocumentID == "" {
		return fmt.Errorf("job %s has no document_id", job.ID)
	}

	n, err := w.ingester.Ingest(ctx, job.DocumentID)
	if err != nil {
		return w.handleJobFailure(ctx, job, err)
	}

	if err := w.repo.UpdateStatus(ctx, job.ID, domain.IngestJobStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}

	log.Printf("[ingest] job %s stored %d chunks for document %s", job.ID, n, job.DocumentID)
	return nil
}

func (w *IngestWorker) handleJobFailure(ctx context.Context, job *domain.IngestJob, jobErr error) error {
	log.Printf("[ingest] job %s failed: %v", job.ID, jobErr)

	if err := w.repo.IncrementRetries(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	// A document that no longer exists will never ingest.
	if job.Retries+1 >= MaxRetries || domain.CodeOf(jobErr) == domain.ErrCodeNotFound {
		log.Printf("[ingest] job %s giving up after %d attempt(s)", job.ID, job.Retries+1)
		errMsg := fmt.Sprintf("max retries exceeded: %v", jobErr)
		if err := w.repo.UpdateStatus(ctx, job.ID, domain.IngestJobStatusFailed, errMsg); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	log.Printf("[ingest] job %s will be retried (attempt %d/%d)", job.ID, job.Retries+1, MaxRetries)
	errMsg := fmt.Sprintf("retry %d: %v", job.Retries+1, jobErr)
	if err := w.repo.UpdateStatus(ctx, job.ID, domain.IngestJobStatusPending, errMsg); err != nil {
		return fmt.Errorf("failed to reset job status to pending: %w", err)
	}

	return nil
}
