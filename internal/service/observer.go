package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cloo-solutions/ragquery/internal/domain"
)

// AnsweredEvent describes a query that produced an answer, including the
// canned no-documents and low-confidence answers.
type AnsweredEvent struct {
	RequestID string
	OwnerID   string
	Question  string
	Answer    string
	ClientIP  string // anonymized
	Metrics   QueryMetrics
	At        time.Time
}

// FailedEvent describes a query that ended in an error response.
type FailedEvent struct {
	RequestID string
	OwnerID   string
	Stage     string
	Code      string
	Message   string
	Status    int
	ClientIP  string // anonymized
	Metrics   QueryMetrics
	At        time.Time
}

// QueryObserver receives the outcome of every query. Observers are called
// synchronously by the orchestrator after the response is assembled, so
// they must not block.
type QueryObserver interface {
	QueryAnswered(ctx context.Context, ev AnsweredEvent)
	QueryFailed(ctx context.Context, ev FailedEvent)
}

type QueryRecordStore interface {
	Create(ctx context.Context, rec *domain.QueryRecord) error
}

type MetricStore interface {
	Create(ctx context.Context, m *domain.PerformanceMetric) error
}

type AuditEventStore interface {
	Create(ctx context.Context, ev *domain.AuditEvent) error
}

const defaultAuditWriteTimeout = 5 * time.Second

// AuditRecorder persists query outcomes in the background. Answered queries
// produce a QueryRecord and a PerformanceMetric; failed queries produce an
// AuditEvent, plus an error metric when the failure was on the server side.
// Write failures are logged and otherwise ignored.
type AuditRecorder struct {
	records QueryRecordStore
	metrics MetricStore
	events  AuditEventStore
	uuidGen UUIDGenerator
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAuditRecorder(records QueryRecordStore, metrics MetricStore, events AuditEventStore) *AuditRecorder {
	return &AuditRecorder{
		records: records,
		metrics: metrics,
		events:  events,
		uuidGen: &DefaultUUIDGenerator{},
		timeout: defaultAuditWriteTimeout,
	}
}

func (r *AuditRecorder) QueryAnswered(ctx context.Context, ev AnsweredEvent) {
	rec := &domain.QueryRecord{
		ID:              r.uuidGen.NewString(),
		OwnerID:         ev.OwnerID,
		RequestID:       ev.RequestID,
		Question:        ev.Question,
		Answer:          domain.TruncateAnswer(ev.Answer),
		AvgSimilarity:   ev.Metrics.AvgSimilarity,
		ChunksRetrieved: ev.Metrics.ChunksRetrieved,
		ClientIP:        ev.ClientIP,
		CreatedAt:       ev.At,
	}
	metric := performanceMetric(ev.RequestID, ev.OwnerID, domain.MetricStatusOK, ev.Metrics, ev.At)

	r.dispatch(ctx, ev.RequestID, func(ctx context.Context) {
		if err := r.records.Create(ctx, rec); err != nil {
			log.Printf("[audit] request_id=%s failed to store query record: %v", ev.RequestID, err)
		}
		if err := r.metrics.Create(ctx, metric); err != nil {
			log.Printf("[audit] request_id=%s failed to store metric: %v", ev.RequestID, err)
		}
	})
}

func (r *AuditRecorder) QueryFailed(ctx context.Context, ev FailedEvent) {
	event := &domain.AuditEvent{
		RequestID: ev.RequestID,
		OwnerID:   ev.OwnerID,
		Stage:     ev.Stage,
		ErrorCode: ev.Code,
		Message:   ev.Message,
		ClientIP:  ev.ClientIP,
		CreatedAt: ev.At,
	}
	var metric *domain.PerformanceMetric
	if ev.Status >= 500 {
		metric = performanceMetric(ev.RequestID, ev.OwnerID, domain.MetricStatusError, ev.Metrics, ev.At)
	}

	r.dispatch(ctx, ev.RequestID, func(ctx context.Context) {
		if err := r.events.Create(ctx, event); err != nil {
			log.Printf("[audit] request_id=%s failed to store audit event: %v", ev.RequestID, err)
		}
		if metric != nil {
			if err := r.metrics.Create(ctx, metric); err != nil {
				log.Printf("[audit] request_id=%s failed to store metric: %v", ev.RequestID, err)
			}
		}
	})
}

// dispatch runs write on a context detached from the request, so the
// writes outlive the response.
func (r *AuditRecorder) dispatch(ctx context.Context, requestID string, write func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				log.Printf("[audit] request_id=%s panic while recording: %v", requestID, p)
			}
		}()

		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		write(writeCtx)
	}()
}

// Drain waits for in-flight writes or until ctx is done.
func (r *AuditRecorder) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func performanceMetric(requestID, ownerID string, status domain.MetricStatus, m QueryMetrics, at time.Time) *domain.PerformanceMetric {
	return &domain.PerformanceMetric{
		RequestID:       requestID,
		OwnerID:         ownerID,
		Status:          status,
		TotalMs:         m.TotalMs,
		EmbeddingMs:     m.EmbeddingMs,
		DatabaseMs:      m.DatabaseMs,
		LLMMs:           m.LLMMs,
		RerankMs:        m.RerankMs,
		ChunksRetrieved: m.ChunksRetrieved,
		AvgSimilarity:   m.AvgSimilarity,
		CreatedAt:       at,
	}
}

// ObserverFuncs adapts plain functions to QueryObserver. Nil fields are
// skipped.
type ObserverFuncs struct {
	OnAnswered func(ctx context.Context, ev AnsweredEvent)
	OnFailed   func(ctx context.Context, ev FailedEvent)
}

func (o ObserverFuncs) QueryAnswered(ctx context.Context, ev AnsweredEvent) {
	if o.OnAnswered != nil {
		o.OnAnswered(ctx, ev)
	}
}

func (o ObserverFuncs) QueryFailed(ctx context.Context, ev FailedEvent) {
	if o.OnFailed != nil {
		o.OnFailed(ctx, ev)
	}
}
