package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/cloo-solutions/ragquery/internal/api"
	"github.com/cloo-solutions/ragquery/internal/api/middleware"
	"github.com/cloo-solutions/ragquery/internal/domain"
	"github.com/cloo-solutions/ragquery/internal/service"
)

type QueryService interface {
	Answer(ctx context.Context, req service.QueryRequest) (*service.QueryResult, *service.QueryError)
}

// QueryHandler serves the query endpoint. Authentication is left to the
// query service so that every failure, 401 included, carries the error
// triple.
type QueryHandler struct {
	svc QueryService
	// Retry-After hint sent with RATE_429, in seconds.
	retryAfter int
}

func NewQueryHandler(svc QueryService, retryAfterSeconds int) *QueryHandler {
	return &QueryHandler{svc: svc, retryAfter: retryAfterSeconds}
}

type QueryRequestBody struct {
	Question string `json:"question"`
	K        *int   `json:"k,omitempty"`
}

type SourceResponse struct {
	Label         string  `json:"label"`
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	ChunkID       string  `json:"chunk_id,omitempty"`
	PageNo        *int    `json:"page_no,omitempty"`
	Similarity    float64 `json:"similarity"`
	Preview       string  `json:"preview"`
}

type QueryMetricsResponse struct {
	TotalLatency     int64   `json:"totalLatency"`
	LLMLatency       int64   `json:"llmLatency"`
	DBLatency        int64   `json:"dbLatency"`
	EmbLatency       int64   `json:"embLatency"`
	RerankLatency    int64   `json:"rerankLatency"`
	AvgSimilarity    float64 `json:"avgSimilarity"`
	ChunksRetrieved  int     `json:"chunksRetrieved"`
	TotalChunksFound int     `json:"totalChunksFound"`
}

type QueryResponse struct {
	RequestID string               `json:"requestId"`
	Answer    string               `json:"answer"`
	Sources   []SourceResponse     `json:"sources"`
	Metrics   QueryMetricsResponse `json:"metrics"`
}

func queryToResponse(res *service.QueryResult) QueryResponse {
	sources := make([]SourceResponse, 0, len(res.Sources))
	for _, s := range res.Sources {
		sources = append(sources, SourceResponse{
			Label:         s.Label,
			DocumentID:    s.DocumentID,
			DocumentTitle: s.DocumentTitle,
			ChunkID:       s.ChunkID,
			PageNo:        s.PageNo,
			Similarity:    s.Similarity,
			Preview:       s.Preview,
		})
	}
	m := res.Metrics
	return QueryResponse{
		RequestID: res.RequestID,
		Answer:    res.Answer,
		Sources:   sources,
		Metrics: QueryMetricsResponse{
			TotalLatency:     m.TotalMs,
			LLMLatency:       m.LLMMs,
			DBLatency:        m.DatabaseMs,
			EmbLatency:       m.EmbeddingMs,
			RerankLatency:    m.RerankMs,
			AvgSimilarity:    m.AvgSimilarity,
			ChunksRetrieved:  m.ChunksRetrieved,
			TotalChunksFound: m.TotalChunksFound,
		},
	}
}

// Query answers POST /query. The body is returned unwrapped, without the
// data envelope of the other endpoints.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	credential, _ := middleware.BearerToken(r)

	// An undecodable body is treated as an empty question, so the
	// orchestrator still checks the credential first and answers
	// VALIDATION_400 afterwards.
	var body QueryRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.QueryError(w, http.StatusRequestEntityTooLarge, domain.ErrCodeBadRequest, "request body too large", requestID, 0)
			return
		}
		body = QueryRequestBody{}
	}

	k := 0
	if body.K != nil {
		k = *body.K
	}

	res, qerr := h.svc.Answer(r.Context(), service.QueryRequest{
		RequestID:    requestID,
		Credential:   credential,
		Question:     body.Question,
		K:            k,
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
		RemoteAddr:   r.RemoteAddr,
	})
	if qerr != nil {
		api.QueryError(w, qerr.Status, qerr.Code, qerr.Message, qerr.RequestID, h.retryAfter)
		return
	}

	api.JSON(w, http.StatusOK, queryToResponse(res))
}

// Preflight answers OPTIONS /query when no CORS middleware has done so.
func (h *QueryHandler) Preflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", strings.Join([]string{http.MethodPost, http.MethodOptions}, ", "))
	w.WriteHeader(http.StatusNoContent)
}
