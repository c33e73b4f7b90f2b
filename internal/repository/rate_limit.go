package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RateLimitRepository keeps fixed-window request counters.
type RateLimitRepository struct {
	pool *pgxpool.Pool
}

func NewRateLimitRepository(pool *pgxpool.Pool) *RateLimitRepository {
	return &RateLimitRepository{pool: pool}
}

// Hit increments the counter of key for the window starting at windowStart
// and returns the new count. The upsert is atomic, so concurrent requests
// each observe a distinct count.
func (r *RateLimitRepository) Hit(ctx context.Context, key string, windowStart time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`INSERT INTO rate_limits (key, window_start, count)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (key, window_start) DO UPDATE SET count = rate_limits.count + 1
		 RETURNING count`,
		key, windowStart,
	).Scan(&count)
	return count, err
}

// PruneBefore deletes counters of windows that started before cutoff.
func (r *RateLimitRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM rate_limits WHERE window_start < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}
