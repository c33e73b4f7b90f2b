package service

import (
	"context"
	"time"

	"github.com/cloo-solutions/ragquery/internal/domain"
)

type MetricSummarizer interface {
	Summarize(ctx context.Context, window time.Duration) (*domain.HealthSummary, error)
}

type FailureCounter interface {
	CountByCode(ctx context.Context, window time.Duration) (map[string]int, error)
}

// HealthThresholds decide when the service counts as degraded or down.
type HealthThresholds struct {
	DegradedErrorRate float64
	DownErrorRate     float64
	// DegradedLatencyMs is the average total latency above which the
	// service is degraded.
	DegradedLatencyMs float64
}

func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		DegradedErrorRate: 0.1,
		DownErrorRate:     0.5,
		DegradedLatencyMs: 10000,
	}
}

// HealthReport is the aggregate health view over a recent window.
type HealthReport struct {
	domain.HealthSummary
	ErrorRate      float64
	FailuresByCode map[string]int
	CheckedAt      time.Time
}

// HealthService aggregates the emitted metrics and audit events into a
// coarse status for external monitoring.
type HealthService struct {
	metrics    MetricSummarizer
	failures   FailureCounter
	window     time.Duration
	thresholds HealthThresholds
}

func NewHealthService(metrics MetricSummarizer, failures FailureCounter, window time.Duration, thresholds HealthThresholds) *HealthService {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &HealthService{
		metrics:    metrics,
		failures:   failures,
		window:     window,
		thresholds: thresholds,
	}
}

// Status computes the health report. With no traffic in the window the
// service is reported ok.
func (s *HealthService) Status(ctx context.Context) (*HealthReport, error) {
	summary, err := s.metrics.Summarize(ctx, s.window)
	if err != nil {
		return nil, err
	}

	failures := map[string]int{}
	if s.failures != nil {
		failures, err = s.failures.CountByCode(ctx, s.window)
		if err != nil {
			return nil, err
		}
	}

	report := &HealthReport{
		HealthSummary:  *summary,
		FailuresByCode: failures,
		CheckedAt:      time.Now().UTC(),
	}
	report.Window = s.window
	if summary.RequestCount > 0 {
		report.ErrorRate = float64(summary.ErrorCount) / float64(summary.RequestCount)
	}
	report.Status = s.classify(report)
	return report, nil
}

func (s *HealthService) classify(r *HealthReport) domain.HealthStatus {
	if r.RequestCount == 0 {
		return domain.HealthStatusOK
	}
	switch {
	case r.ErrorRate >= s.thresholds.DownErrorRate:
		return domain.HealthStatusDown
	case r.ErrorRate >= s.thresholds.DegradedErrorRate:
		return domain.HealthStatusDegraded
	case s.thresholds.DegradedLatencyMs > 0 && r.AvgLatencyMs > s.thresholds.DegradedLatencyMs:
		return domain.HealthStatusDegraded
	}
	return domain.HealthStatusOK
}
