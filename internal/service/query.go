package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cloo-solutions/ragquery/internal/domain"
	"github.com/cloo-solutions/ragquery/internal/openai"
	"github.com/cloo-solutions/ragquery/internal/rerank"
	"github.com/cloo-solutions/ragquery/internal/telemetry"
)

// Pipeline stages, as recorded on audit events.
const (
	StageAuth          = "auth"
	StageRateLimitUser = "rate_limit_user"
	StageRateLimitIP   = "rate_limit_ip"
	StageValidate      = "validate"
	StageEmbed         = "embed"
	StageSearch        = "search"
	StageRerank        = "rerank"
	StageSynthesize    = "synthesize"
	StageUncaught      = "uncaught"
)

// NoDocumentsAnswer is returned when the user has nothing ingested that
// could be searched.
const NoDocumentsAnswer = "I couldn't find any documents to answer from. Add a document and wait for it to be ingested, then ask again."

// lowConfidenceAnswer is used when no candidate clears the similarity
// threshold. It cites the closest match so the user can judge it.
const lowConfidenceAnswer = "I couldn't find information in your documents that answers this question with confidence. " +
	"The closest match is [%s] from %q (%d%% relevance), which may not address your question."

const previewRunes = 200

// Authenticator resolves a bearer credential to a user id.
type Authenticator interface {
	ValidateAPIKey(ctx context.Context, token string) (string, error)
}

// QueryEmbedder embeds a single question.
type QueryEmbedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Searcher returns the owner's chunks closest to vector, most similar first.
type Searcher interface {
	SearchSimilar(ctx context.Context, ownerID string, vector []float32, k int) ([]domain.RetrievalCandidate, error)
}

// Completer runs a chat completion.
type Completer interface {
	Complete(ctx context.Context, req openai.ChatRequest) (string, error)
}

// QueryConfig holds the tunables of the query pipeline.
type QueryConfig struct {
	Weights rerank.Weights
	// TopN is the number of candidates kept after re-ranking.
	TopN int
	// DefaultCandidates is fetched when the request does not ask for a
	// count; MaxCandidates caps any requested count.
	DefaultCandidates int
	MaxCandidates     int
	MinSimilarity     float64
	MaxQuestionRunes  int
	Temperature       float32
	MaxTokens         int
}

// DefaultQueryConfig returns the documented defaults.
func DefaultQueryConfig() QueryConfig {
	return QueryConfig{
		Weights:           rerank.DefaultWeights(),
		TopN:              8,
		DefaultCandidates: 20,
		MaxCandidates:     30,
		MinSimilarity:     0.4,
		MaxQuestionRunes:  2000,
		Temperature:       0.1,
		MaxTokens:         800,
	}
}

func (c QueryConfig) withDefaults() QueryConfig {
	def := DefaultQueryConfig()
	if c.TopN <= 0 {
		c.TopN = def.TopN
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = def.MaxCandidates
	}
	if c.DefaultCandidates <= 0 {
		c.DefaultCandidates = def.DefaultCandidates
	}
	if c.DefaultCandidates > c.MaxCandidates {
		c.DefaultCandidates = c.MaxCandidates
	}
	if c.MaxQuestionRunes <= 0 {
		c.MaxQuestionRunes = def.MaxQuestionRunes
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = def.MaxTokens
	}
	return c
}

// QueryDeps are the collaborators of the query pipeline. Limiter may be nil
// to disable rate limiting.
type QueryDeps struct {
	Auth      Authenticator
	Limiter   RateLimiterInterface
	Embedder  QueryEmbedder
	Search    Searcher
	LLM       Completer
	Observers []QueryObserver
	UUIDGen   UUIDGenerator
}

// QueryRequest is one question as received from a client. RequestID is
// optional; one is generated when empty.
type QueryRequest struct {
	RequestID    string
	Credential   string
	Question     string
	K            int
	ForwardedFor string
	RemoteAddr   string
}

// Source is a citation in a query answer.
type Source struct {
	Label         string
	DocumentID    string
	DocumentTitle string
	ChunkID       string
	PageNo        *int
	Similarity    float64
	Preview       string
}

// QueryMetrics is the latency and quality breakdown of one request, in
// milliseconds.
type QueryMetrics struct {
	TotalMs          int64
	LLMMs            int64
	DatabaseMs       int64
	EmbeddingMs      int64
	RerankMs         int64
	AvgSimilarity    float64
	ChunksRetrieved  int
	TotalChunksFound int
}

type QueryResult struct {
	RequestID string
	Answer    string
	Sources   []Source
	Metrics   QueryMetrics
}

// QueryError is the terminal state of a failed request. Code, Message and
// RequestID form the client-visible error triple.
type QueryError struct {
	Code      string
	Message   string
	RequestID string
	Status    int
	Stage     string
	Err       error
}

func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s (request %s): %v", e.Code, e.Message, e.RequestID, e.Err)
	}
	return fmt.Sprintf("[%s] %s (request %s)", e.Code, e.Message, e.RequestID)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// QueryService answers questions over a user's documents. Each call is
// independent; the service holds no per-request state.
type QueryService struct {
	deps QueryDeps
	cfg  QueryConfig
	now  func() time.Time
}

func NewQueryService(deps QueryDeps, cfg QueryConfig) *QueryService {
	if deps.UUIDGen == nil {
		deps.UUIDGen = &DefaultUUIDGenerator{}
	}
	return &QueryService{deps: deps, cfg: cfg.withDefaults(), now: time.Now}
}

// run carries the state of one request through the pipeline.
type run struct {
	requestID string
	ownerID   string
	question  string
	clientIP  string
	start     time.Time
	metrics   QueryMetrics
}

// Answer runs the pipeline: auth, rate limits, validation, embedding,
// search, re-ranking, relevance filtering and synthesis. Exactly one of the
// results is non-nil, and both carry the request id.
func (s *QueryService) Answer(ctx context.Context, req QueryRequest) (result *QueryResult, qerr *QueryError) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = s.deps.UUIDGen.NewString()
	}
	r := &run{
		requestID: requestID,
		clientIP:  AnonymizeIP(ClientIP(req.ForwardedFor, req.RemoteAddr)),
		start:     s.now(),
	}

	ctx, span := telemetry.StartSpan(ctx, "QueryService.Answer", telemetry.SpanAttributes{
		RequestID: r.requestID,
		Operation: "query",
	})
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			result = nil
			qerr = s.fail(ctx, r, StageUncaught, domain.ErrCodeUncaught, http.StatusInternalServerError,
				"internal error", fmt.Errorf("panic: %v", p))
		}
		if qerr != nil {
			span.SetData("error_code", qerr.Code)
		}
	}()

	if qerr := s.authenticate(ctx, r, req.Credential); qerr != nil {
		return nil, qerr
	}

	if s.deps.Limiter != nil {
		if !s.deps.Limiter.AllowUser(ctx, r.ownerID) {
			return nil, s.fail(ctx, r, StageRateLimitUser, domain.ErrCodeRateLimit, http.StatusTooManyRequests,
				"rate limit exceeded, retry later", nil)
		}
		if !s.deps.Limiter.AllowIP(ctx, r.clientIP) {
			return nil, s.fail(ctx, r, StageRateLimitIP, domain.ErrCodeRateLimit, http.StatusTooManyRequests,
				"too many requests from this address, retry later", nil)
		}
	}

	r.question = strings.TrimSpace(req.Question)
	if r.question == "" {
		return nil, s.fail(ctx, r, StageValidate, domain.ErrCodeBadRequest, http.StatusBadRequest,
			"question is required", nil)
	}
	if len([]rune(r.question)) > s.cfg.MaxQuestionRunes {
		return nil, s.fail(ctx, r, StageValidate, domain.ErrCodeBadRequest, http.StatusBadRequest,
			fmt.Sprintf("question exceeds %d characters", s.cfg.MaxQuestionRunes), nil)
	}
	k := s.clampK(req.K)

	stageStart := s.now()
	stage := telemetry.StartStage(ctx, "embed")
	vector, err := s.deps.Embedder.GenerateEmbedding(ctx, r.question)
	stage.End()
	r.metrics.EmbeddingMs = s.since(stageStart)
	if err != nil {
		return nil, s.fail(ctx, r, StageEmbed, domain.ErrCodeEmbed, http.StatusInternalServerError,
			"failed to embed question", err)
	}

	stageStart = s.now()
	stage = telemetry.StartStage(ctx, "search")
	candidates, err := s.deps.Search.SearchSimilar(ctx, r.ownerID, vector, k)
	stage.End()
	r.metrics.DatabaseMs = s.since(stageStart)
	if err != nil {
		return nil, s.fail(ctx, r, StageSearch, domain.ErrCodeSearch, http.StatusInternalServerError,
			"failed to search documents", err)
	}
	candidates = ownedBy(candidates, r.ownerID)
	r.metrics.TotalChunksFound = len(candidates)

	if len(candidates) == 0 {
		return s.respond(ctx, r, NoDocumentsAnswer, []Source{}), nil
	}

	stageStart = s.now()
	ranked := s.rerank(r.question, candidates)
	r.metrics.RerankMs = s.since(stageStart)

	relevant := make([]domain.RetrievalCandidate, 0, len(ranked))
	for _, c := range ranked {
		if c.Similarity >= s.cfg.MinSimilarity {
			relevant = append(relevant, c)
		}
	}

	if len(relevant) == 0 {
		best := bestMatch(candidates)
		r.metrics.AvgSimilarity = best.Similarity
		r.metrics.ChunksRetrieved = 1
		answer := fmt.Sprintf(lowConfidenceAnswer, SourceLabel(1), displayTitle(best.DocumentTitle), relevancePercent(best.Similarity))
		return s.respond(ctx, r, answer, []Source{toSource(1, best)}), nil
	}

	prompt := BuildPrompt(r.question, relevant)
	stageStart = s.now()
	stage = telemetry.StartStage(ctx, "synthesize")
	answer, err := s.deps.LLM.Complete(ctx, openai.ChatRequest{
		System:      prompt.System,
		User:        prompt.User,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	stage.End()
	r.metrics.LLMMs = s.since(stageStart)
	if err == nil && strings.TrimSpace(answer) == "" {
		err = openai.ErrEmptyCompletion
	}
	if err != nil {
		return nil, s.fail(ctx, r, StageSynthesize, domain.ErrCodeLLM, http.StatusInternalServerError,
			"failed to generate answer", err)
	}

	sources := make([]Source, len(relevant))
	var total float64
	for i, c := range relevant {
		sources[i] = toSource(i+1, c)
		total += c.Similarity
	}
	r.metrics.AvgSimilarity = total / float64(len(relevant))
	r.metrics.ChunksRetrieved = len(relevant)

	return s.respond(ctx, r, answer, sources), nil
}

func (s *QueryService) authenticate(ctx context.Context, r *run, credential string) *QueryError {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return s.fail(ctx, r, StageAuth, domain.ErrCodeAuth, http.StatusUnauthorized,
			"missing bearer credential", nil)
	}
	ownerID, err := s.deps.Auth.ValidateAPIKey(ctx, credential)
	if err != nil {
		msg := "invalid credential"
		if errors.Is(err, domain.ErrAPIKeyRevoked) {
			msg = "credential has been revoked"
		}
		return s.fail(ctx, r, StageAuth, domain.ErrCodeAuth, http.StatusUnauthorized, msg, err)
	}
	r.ownerID = ownerID
	return nil
}

func (s *QueryService) clampK(k int) int {
	if k <= 0 {
		return s.cfg.DefaultCandidates
	}
	if k > s.cfg.MaxCandidates {
		return s.cfg.MaxCandidates
	}
	return k
}

func (s *QueryService) rerank(question string, candidates []domain.RetrievalCandidate) []domain.RetrievalCandidate {
	pool := make([]rerank.Candidate, len(candidates))
	for i, c := range candidates {
		pool[i] = rerank.Candidate{
			ID:         c.ChunkID,
			Text:       c.Content,
			Similarity: c.Similarity,
			Meta:       map[string]any{"pos": i},
		}
	}
	scored := rerank.Rerank(question, pool, s.cfg.TopN, s.cfg.Weights)

	out := make([]domain.RetrievalCandidate, len(scored))
	for i, sc := range scored {
		out[i] = candidates[sc.Meta["pos"].(int)]
	}
	return out
}

func (s *QueryService) respond(ctx context.Context, r *run, answer string, sources []Source) *QueryResult {
	r.metrics.TotalMs = s.since(r.start)
	res := &QueryResult{
		RequestID: r.requestID,
		Answer:    answer,
		Sources:   sources,
		Metrics:   r.metrics,
	}
	ev := AnsweredEvent{
		RequestID: r.requestID,
		OwnerID:   r.ownerID,
		Question:  r.question,
		Answer:    answer,
		ClientIP:  r.clientIP,
		Metrics:   r.metrics,
		At:        s.now().UTC(),
	}
	for _, o := range s.deps.Observers {
		s.notify(r.requestID, func() { o.QueryAnswered(ctx, ev) })
	}
	return res
}

func (s *QueryService) fail(ctx context.Context, r *run, stage, code string, status int, message string, cause error) *QueryError {
	r.metrics.TotalMs = s.since(r.start)
	if cause != nil {
		log.Printf("[query] request_id=%s stage=%s code=%s error=%v", r.requestID, stage, code, cause)
		if status >= http.StatusInternalServerError {
			telemetry.CaptureError(ctx, cause)
		}
	} else {
		log.Printf("[query] request_id=%s stage=%s code=%s %s", r.requestID, stage, code, message)
	}

	ev := FailedEvent{
		RequestID: r.requestID,
		OwnerID:   r.ownerID,
		Stage:     stage,
		Code:      code,
		Message:   message,
		Status:    status,
		ClientIP:  r.clientIP,
		Metrics:   r.metrics,
		At:        s.now().UTC(),
	}
	for _, o := range s.deps.Observers {
		s.notify(r.requestID, func() { o.QueryFailed(ctx, ev) })
	}

	return &QueryError{
		Code:      code,
		Message:   message,
		RequestID: r.requestID,
		Status:    status,
		Stage:     stage,
		Err:       cause,
	}
}

// notify shields the response from a misbehaving observer.
func (s *QueryService) notify(requestID string, call func()) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[query] request_id=%s observer panic: %v", requestID, p)
		}
	}()
	call()
}

func (s *QueryService) since(t time.Time) int64 {
	return s.now().Sub(t).Milliseconds()
}

// ownedBy drops candidates of other owners. The store already filters by
// owner; this keeps a faulty store from leaking another tenant's text.
func ownedBy(candidates []domain.RetrievalCandidate, ownerID string) []domain.RetrievalCandidate {
	out := candidates[:0:0]
	for _, c := range candidates {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	return out
}

func bestMatch(candidates []domain.RetrievalCandidate) domain.RetrievalCandidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Similarity > best.Similarity {
			best = c
		}
	}
	return best
}

func toSource(n int, c domain.RetrievalCandidate) Source {
	return Source{
		Label:         SourceLabel(n),
		DocumentID:    c.DocumentID,
		DocumentTitle: c.DocumentTitle,
		ChunkID:       c.ChunkID,
		PageNo:        c.PageNo,
		Similarity:    c.Similarity,
		Preview:       preview(c.Content),
	}
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return strings.TrimSpace(string(runes[:previewRunes])) + "..."
}
