package domain

import (
	"time"
	"unicode/utf8"
)

// MaxRecordedAnswerRunes bounds the answer text kept in the audit history.
const MaxRecordedAnswerRunes = 2000

// QueryRecord is the append-only audit entry of an answered question.
type QueryRecord struct {
	ID              string
	OwnerID         string
	RequestID       string
	Question        string
	Answer          string
	AvgSimilarity   float64
	ChunksRetrieved int
	ClientIP        string // Always anonymized
	CreatedAt       time.Time
}

// MetricStatus marks whether a request completed or failed.
type MetricStatus string

const (
	MetricStatusOK    MetricStatus = "ok"
	MetricStatusError MetricStatus = "error"
)

// PerformanceMetric is the per-request latency breakdown used for health
// and drift monitoring.
type PerformanceMetric struct {
	RequestID       string
	OwnerID         string
	Status          MetricStatus
	TotalMs         int64
	EmbeddingMs     int64
	DatabaseMs      int64
	LLMMs           int64
	RerankMs        int64
	ChunksRetrieved int
	AvgSimilarity   float64
	CreatedAt       time.Time
}

// AuditEvent records a failed request with the stage that failed.
type AuditEvent struct {
	RequestID string
	OwnerID   string // Empty when the caller could not be authenticated
	Stage     string
	ErrorCode string
	Message   string
	ClientIP  string // Always anonymized
	CreatedAt time.Time
}

// HealthStatus is the coarse state reported by the health view.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusDown     HealthStatus = "down"
)

// HealthSummary aggregates recent metrics and failures.
type HealthSummary struct {
	Status        HealthStatus
	Window        time.Duration
	RequestCount  int
	ErrorCount    int
	AvgLatencyMs  float64
	AvgSimilarity float64
}

// TruncateAnswer cuts s to MaxRecordedAnswerRunes runes.
func TruncateAnswer(s string) string {
	if utf8.RuneCountInString(s) <= MaxRecordedAnswerRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxRecordedAnswerRunes])
}
