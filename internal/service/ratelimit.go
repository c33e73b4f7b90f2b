package service

import (
	"context"
	"log"
	"time"
)

// ipLimitFactor scales the per-user limit for per-IP counters, since many
// users may share an address.
const ipLimitFactor = 3

// RateCounter atomically increments the counter of key for the window
// starting at windowStart and returns the new count.
type RateCounter interface {
	Hit(ctx context.Context, key string, windowStart time.Time) (int, error)
}

// RateLimiterInterface is the admission check of the query pipeline.
type RateLimiterInterface interface {
	AllowUser(ctx context.Context, userID string) bool
	AllowIP(ctx context.Context, anonymizedIP string) bool
}

// RateLimiter enforces fixed-window request limits per user and per client
// address. Counting happens in the store so that concurrent requests across
// processes share one counter.
type RateLimiter struct {
	store     RateCounter
	window    time.Duration
	userLimit int
	now       func() time.Time
}

func NewRateLimiter(store RateCounter, userLimit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		store:     store,
		window:    window,
		userLimit: userLimit,
		now:       time.Now,
	}
}

// Window returns the length of a counting window.
func (l *RateLimiter) Window() time.Duration {
	return l.window
}

func (l *RateLimiter) AllowUser(ctx context.Context, userID string) bool {
	return l.allow(ctx, "user:"+userID, l.userLimit)
}

func (l *RateLimiter) AllowIP(ctx context.Context, anonymizedIP string) bool {
	return l.allow(ctx, "ip:"+anonymizedIP, l.userLimit*ipLimitFactor)
}

// allow fails open: a counter store outage must not take the query path
// down with it.
func (l *RateLimiter) allow(ctx context.Context, key string, limit int) bool {
	if limit <= 0 {
		return true
	}
	windowStart := l.now().UTC().Truncate(l.window)
	count, err := l.store.Hit(ctx, key, windowStart)
	if err != nil {
		log.Printf("[ratelimit] counter %s unavailable, allowing request: %v", key, err)
		return true
	}
	return count <= limit
}
