//go:build integration

package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/ragquery/internal/domain"
)

func TestIngestJobRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	repo := NewIngestJobRepository(pool)

	user := createUser(ctx, t, pool, "jobs")
	doc := createDocument(ctx, t, pool, user.ID, "handbook")

	job := domain.NewIngestJob(uuid.NewString(), doc.ID, domain.IngestJobStatusPending, 0, "", time.Now().UTC(), nil)
	require.NoError(t, repo.Create(ctx, job))

	claimed, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, domain.IngestJobStatusProcessing, claimed[0].Status)

	again, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "processing jobs are not claimed twice")

	require.NoError(t, repo.IncrementRetries(ctx, job.ID))
	require.NoError(t, repo.UpdateStatus(ctx, job.ID, domain.IngestJobStatusFailed, "embedder down"))

	stored, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IngestJobStatusFailed, stored.Status)
	assert.Equal(t, int32(1), stored.Retries)
	assert.Equal(t, "embedder down", stored.Error)
	assert.NotNil(t, stored.ProcessedAt)

	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrIngestJobNotFound)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, uuid.NewString(), domain.IngestJobStatusCompleted, ""), ErrIngestJobNotFound)
}

func TestIngestJobRepository_ConcurrentClaimsDoNotOverlap(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	repo := NewIngestJobRepository(pool)

	user := createUser(ctx, t, pool, "claims")
	doc := createDocument(ctx, t, pool, user.ID, "manual")
	for range 20 {
		job := domain.NewIngestJob(uuid.NewString(), doc.ID, domain.IngestJobStatusPending, 0, "", time.Now().UTC(), nil)
		require.NoError(t, repo.Create(ctx, job))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs, err := repo.ClaimPending(ctx, 8)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, j := range jobs {
				seen[j.ID]++
			}
		}()
	}
	wg.Wait()

	rest, err := repo.ClaimPending(ctx, 20)
	require.NoError(t, err)
	for _, j := range rest {
		seen[j.ID]++
	}

	assert.Len(t, seen, 20)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}
