package repository

import (
	"context"
	"time"

	"github.com/cloo-solutions/ragquery/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QueryRecordRepository stores the append-only history of answered questions.
type QueryRecordRepository struct {
	pool *pgxpool.Pool
}

func NewQueryRecordRepository(pool *pgxpool.Pool) *QueryRecordRepository {
	return &QueryRecordRepository{pool: pool}
}

func (r *QueryRecordRepository) Create(ctx context.Context, rec *domain.QueryRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO query_records (id, owner_id, request_id, question, answer, avg_similarity, chunks_retrieved, client_ip, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.OwnerID, rec.RequestID, rec.Question, domain.TruncateAnswer(rec.Answer),
		rec.AvgSimilarity, rec.ChunksRetrieved, rec.ClientIP, rec.CreatedAt,
	)
	return err
}

// ListByOwner returns the owner's most recent records first.
func (r *QueryRecordRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*domain.QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, owner_id, request_id, question, answer, avg_similarity, chunks_retrieved, client_ip, created_at
		 FROM query_records WHERE owner_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*domain.QueryRecord{}
	for rows.Next() {
		var rec domain.QueryRecord
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.RequestID, &rec.Question, &rec.Answer,
			&rec.AvgSimilarity, &rec.ChunksRetrieved, &rec.ClientIP, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// MetricRepository stores per-request latency breakdowns.
type MetricRepository struct {
	pool *pgxpool.Pool
}

func NewMetricRepository(pool *pgxpool.Pool) *MetricRepository {
	return &MetricRepository{pool: pool}
}

func (r *MetricRepository) Create(ctx context.Context, m *domain.PerformanceMetric) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO performance_metrics
			(request_id, owner_id, status, total_ms, embedding_ms, database_ms, llm_ms, rerank_ms, chunks_retrieved, avg_similarity, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.RequestID, nullableString(m.OwnerID), m.Status, m.TotalMs, m.EmbeddingMs, m.DatabaseMs,
		m.LLMMs, m.RerankMs, m.ChunksRetrieved, m.AvgSimilarity, m.CreatedAt,
	)
	return err
}

// Summarize aggregates the metrics recorded since now-window. Status is left
// for the caller to derive.
func (r *MetricRepository) Summarize(ctx context.Context, window time.Duration) (*domain.HealthSummary, error) {
	since := time.Now().UTC().Add(-window)
	summary := &domain.HealthSummary{Window: window}
	err := r.pool.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE status = 'error'),
		        coalesce(avg(total_ms), 0)::float8,
		        coalesce(avg(avg_similarity) FILTER (WHERE status = 'ok'), 0)::float8
		 FROM performance_metrics
		 WHERE created_at >= $1`,
		since,
	).Scan(&summary.RequestCount, &summary.ErrorCount, &summary.AvgLatencyMs, &summary.AvgSimilarity)
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// AuditEventRepository stores failed requests.
type AuditEventRepository struct {
	pool *pgxpool.Pool
}

func NewAuditEventRepository(pool *pgxpool.Pool) *AuditEventRepository {
	return &AuditEventRepository{pool: pool}
}

func (r *AuditEventRepository) Create(ctx context.Context, ev *domain.AuditEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_events (request_id, owner_id, stage, error_code, message, client_ip, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.RequestID, nullableString(ev.OwnerID), ev.Stage, ev.ErrorCode, ev.Message, ev.ClientIP, ev.CreatedAt,
	)
	return err
}

// CountByCode returns the number of failures per error code since
// now-window.
func (r *AuditEventRepository) CountByCode(ctx context.Context, window time.Duration) (map[string]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT error_code, count(*) FROM audit_events WHERE created_at >= $1 GROUP BY error_code`,
		time.Now().UTC().Add(-window),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var code string
		var n int
		if err := rows.Scan(&code, &n); err != nil {
			return nil, err
		}
		counts[code] = n
	}
	return counts, rows.Err()
}
