package jobs

import (
	"context"
	"fmt"
	"log"
	"time"
)

// RateWindowPruner deletes rate-limit counters older than cutoff
type RateWindowPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RateLimitJanitor removes expired rate-limit windows so the counter table
// stays small. Counters from the current and previous window are kept.
type RateLimitJanitor struct {
	store  RateWindowPruner
	window time.Duration
	now    func() time.Time
}

func NewRateLimitJanitor(store RateWindowPruner, window time.Duration) *RateLimitJanitor {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimitJanitor{store: store, window: window, now: time.Now}
}

// ProcessJobs implements the JobProcessor interface
func (j *RateLimitJanitor) ProcessJobs(ctx context.Context) error {
	cutoff := j.now().UTC().Truncate(j.window).Add(-j.window)
	n, err := j.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune rate limit windows: %w", err)
	}
	if n > 0 {
		log.Printf("[ratelimit] pruned %d expired windows", n)
	}
	return nil
}
