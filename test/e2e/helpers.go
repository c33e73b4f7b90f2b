//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"github.com/cloo-solutions/ragquery/internal/api/handlers"
	"github.com/cloo-solutions/ragquery/internal/cli/admin"
	"github.com/cloo-solutions/ragquery/internal/openai"
	"github.com/cloo-solutions/ragquery/internal/repository"
	"github.com/cloo-solutions/ragquery/internal/server"
	"github.com/cloo-solutions/ragquery/internal/service"
	"github.com/cloo-solutions/ragquery/internal/storage"
	"github.com/cloo-solutions/ragquery/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	embeddingDims = 1536
	// Per key; the per-IP limit is three times this and every request in
	// these tests comes from loopback.
	e2eRateLimit = 5
	cannedAnswer = "Refunds are accepted within 30 days of purchase [Source 1]."
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	S3Client     *storage.S3Client
	LLM          *fakeOpenAI
	BinaryDir    string
	UserID       string
	APIKeyToken  string
	HTTPClient   *http.Client
}

// SetupE2EEnv starts Postgres, RustFS, a fake OpenAI endpoint and the API
// server.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     testutil.S3AccessKey,
		SecretAccessKey: testutil.S3SecretKey,
		Bucket:          "ragq-e2e",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	llm := newFakeOpenAI()

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}
	serverURL, serverCloser := startServer(t, pool, s3Client, llm.URL(), port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		RustFSC:      s3C,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		S3Client:     s3Client,
		LLM:          llm,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.LLM != nil {
		e.LLM.Close()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		_ = e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		_ = e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		os.RemoveAll(e.BinaryDir)
	}
}

// Bootstrap signs up a user and keeps its first API key.
func (e *E2ETestEnv) Bootstrap() {
	e.UserID, e.APIKeyToken = e.SignUp("e2e-user")
}

// SignUp creates a user through POST /users and returns its ID and key.
func (e *E2ETestEnv) SignUp(name string) (string, string) {
	resp, err := e.Post("/users", map[string]string{"name": name}, "")
	if err != nil {
		e.T.Fatalf("failed to sign up %s: %v", name, err)
	}

	var user struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Data, &user); err != nil {
		e.T.Fatalf("failed to parse signup response: %v", err)
	}
	return user.ID, user.Token
}

// AddDocument creates and ingests a document, returning its ID.
func (e *E2ETestEnv) AddDocument(token, title, content string) string {
	resp, err := e.Post("/documents", map[string]string{
		"title":     title,
		"content":   content,
		"mime_type": "text/plain",
	}, token)
	if err != nil {
		e.T.Fatalf("failed to create document %q: %v", title, err)
	}

	var doc struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Data, &doc); err != nil {
		e.T.Fatalf("failed to parse document response: %v", err)
	}

	if _, err := e.Post("/documents/"+doc.ID+"/ingest", nil, token); err != nil {
		e.T.Fatalf("failed to ingest document %s: %v", doc.ID, err)
	}
	return doc.ID
}

// BuildBinaries builds the ragq and ragqd binaries
func (e *E2ETestEnv) BuildBinaries() {
	tmpDir, err := os.MkdirTemp("", "ragq-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	for _, name := range []string{"ragqd", "ragq"} {
		cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, name), "./cmd/"+name)
		cmd.Dir = "../.."
		if out, err := cmd.CombinedOutput(); err != nil {
			e.T.Fatalf("failed to build %s: %v\n%s", name, err, out)
		}
	}
}

// RunRagq runs the ragq CLI against the test server.
func (e *E2ETestEnv) RunRagq(workDir string, args ...string) (string, error) {
	return e.RunRagqWithInput(workDir, "", args...)
}

// RunRagqWithInput runs the ragq CLI with input on stdin.
func (e *E2ETestEnv) RunRagqWithInput(workDir string, input string, args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "ragq"), args...)
	cmd.Dir = workDir
	cmd.Stdin = strings.NewReader(input)
	cmd.Env = append(os.Environ(),
		"RAGQ_API_KEY="+e.APIKeyToken,
		"RAGQ_API_URL="+e.ServerURL,
		// Keep the developer's saved credentials out of the run.
		"XDG_CONFIG_HOME="+workDir,
		"HOME="+workDir,
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// QueryResponse is the unwrapped body of POST /query.
type QueryResponse struct {
	RequestID string `json:"requestId"`
	Answer    string `json:"answer"`
	Sources   []struct {
		Label         string  `json:"label"`
		DocumentID    string  `json:"document_id"`
		DocumentTitle string  `json:"document_title"`
		Similarity    float64 `json:"similarity"`
		Preview       string  `json:"preview"`
	} `json:"sources"`
	Metrics struct {
		ChunksRetrieved  int     `json:"chunksRetrieved"`
		TotalChunksFound int     `json:"totalChunksFound"`
		AvgSimilarity    float64 `json:"avgSimilarity"`
	} `json:"metrics"`
}

// QueryErrorResponse is the error body of POST /query.
type QueryErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path, authToken string) (*APIResponse, error) {
	return e.doRequest(http.MethodGet, path, nil, authToken)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body any, authToken string) (*APIResponse, error) {
	return e.doRequest(http.MethodPost, path, body, authToken)
}

// Put performs a PUT request
func (e *E2ETestEnv) Put(path string, body any, authToken string) (*APIResponse, error) {
	return e.doRequest(http.MethodPut, path, body, authToken)
}

// Delete performs a DELETE request
func (e *E2ETestEnv) Delete(path, authToken string) (*APIResponse, error) {
	return e.doRequest(http.MethodDelete, path, nil, authToken)
}

// Query posts a question and returns the raw HTTP response for the caller
// to decode; the body is closed by the caller.
func (e *E2ETestEnv) Query(token, question string) *http.Response {
	data, err := json.Marshal(map[string]string{"question": question})
	if err != nil {
		e.T.Fatalf("failed to marshal query: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, e.ServerURL+"/query", bytes.NewReader(data))
	if err != nil {
		e.T.Fatalf("failed to build query request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		e.T.Fatalf("query request failed: %v", err)
	}
	return resp
}

// Ask runs a query that must succeed.
func (e *E2ETestEnv) Ask(token, question string) *QueryResponse {
	resp := e.Query(token, question)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		e.T.Fatalf("query failed with HTTP %d: %s", resp.StatusCode, body)
	}
	var out QueryResponse
	if err := json.Unmarshal(body, &out); err != nil {
		e.T.Fatalf("failed to parse query response: %v", err)
	}
	return &out
}

func (e *E2ETestEnv) doRequest(method, path string, body any, authToken string) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		return &APIResponse{}, nil
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}
	return &apiResp, nil
}

// UploadFile uploads a file to the presigned URL
func (e *E2ETestEnv) UploadFile(uploadURL string, content []byte, contentType string) error {
	req, err := http.NewRequest(http.MethodPut, uploadURL, bytes.NewReader(content))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, body)
	}
	return nil
}

// DownloadFile downloads a file from the presigned URL
func (e *E2ETestEnv) DownloadFile(downloadURL string) ([]byte, error) {
	resp, err := e.HTTPClient.Get(downloadURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// SHA256Sum calculates SHA256 hash of data
func SHA256Sum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// startServer wires the same repositories, services and router as
// `ragqd serve`, with the model calls going to llmURL.
func startServer(t *testing.T, pool *pgxpool.Pool, s3Client *storage.S3Client, llmURL string, port int) (string, func()) {
	users := repository.NewUserRepository(pool)
	apiKeys := repository.NewAPIKeyRepository(pool)
	documents := repository.NewDocumentRepository(pool)
	chunks := repository.NewChunkRepository(pool)
	metrics := repository.NewMetricRepository(pool)
	events := repository.NewAuditEventRepository(pool)

	llm := openai.NewClientWithConfig(openai.Config{
		APIKey:              "sk-e2e",
		BaseURL:             llmURL,
		EmbeddingDimensions: embeddingDims,
		EmbeddingTimeout:    5 * time.Second,
		ChatTimeout:         5 * time.Second,
		RequestsPerSecond:   -1,
	})

	authSvc := service.NewAuthService(users, apiKeys, &service.DefaultUUIDGenerator{})
	ingestion := service.NewIngestionService(documents, chunks, llm, service.IngestionConfig{
		Retry: service.RetryPolicy{MaxAttempts: 1},
	})
	docSvc := service.NewDocumentService(documents, repository.NewIngestJobRepository(pool),
		admin.NewS3StorageAdapter(s3Client), repository.NewTxRunner(pool))

	recorder := service.NewAuditRecorder(repository.NewQueryRecordRepository(pool), metrics, events)
	limiter := service.NewRateLimiter(repository.NewRateLimitRepository(pool), e2eRateLimit, time.Minute)

	queryCfg := service.DefaultQueryConfig()
	queryCfg.MinSimilarity = 0.3
	querySvc := service.NewQueryService(service.QueryDeps{
		Auth:      authSvc,
		Limiter:   limiter,
		Embedder:  llm,
		Search:    chunks,
		LLM:       llm,
		Observers: []service.QueryObserver{recorder},
	}, queryCfg)

	router := server.NewRouter(server.RouterConfig{
		AuthValidator:   authSvc,
		QueryHandler:    handlers.NewQueryHandler(querySvc, int(limiter.Window().Seconds())),
		DocumentHandler: handlers.NewDocumentHandler(docSvc, ingestion),
		AuthHandler:     handlers.NewAuthHandler(authSvc),
		HealthHandler:   handlers.NewHealthHandler(service.NewHealthService(metrics, events, 15*time.Minute, service.DefaultHealthThresholds())),
		CORSOrigins:     []string{"*"},
		AllowSignup:     true,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		_ = recorder.Drain(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// fakeOpenAI speaks just enough of the OpenAI REST API for the pipeline:
// bag-of-words embeddings and a canned chat answer.
type fakeOpenAI struct {
	srv *httptest.Server

	mu           sync.Mutex
	chatRequests int
	lastPrompt   string
}

func newFakeOpenAI() *fakeOpenAI {
	f := &fakeOpenAI{}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	return f
}

func (f *fakeOpenAI) URL() string { return f.srv.URL + "/v1" }

func (f *fakeOpenAI) Close() { f.srv.Close() }

func (f *fakeOpenAI) ChatRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatRequests
}

func (f *fakeOpenAI) LastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPrompt
}

func (f *fakeOpenAI) serveHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/embeddings"):
		f.embeddings(w, r)
	case strings.HasSuffix(r.URL.Path, "/chat/completions"):
		f.chat(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeOpenAI) embeddings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	type item struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	}
	data := make([]item, len(req.Input))
	for i, text := range req.Input {
		data[i] = item{Object: "embedding", Embedding: bagOfWords(text), Index: i}
	}

	writeFakeJSON(w, map[string]any{
		"object": "list",
		"data":   data,
		"model":  req.Model,
		"usage":  map[string]int{"prompt_tokens": len(req.Input), "total_tokens": len(req.Input)},
	})
}

func (f *fakeOpenAI) chat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.chatRequests++
	if n := len(req.Messages); n > 0 {
		f.lastPrompt = req.Messages[n-1].Content
	}
	f.mu.Unlock()

	writeFakeJSON(w, map[string]any{
		"id":      "chatcmpl-e2e",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": cannedAnswer},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 10, "total_tokens": 20},
	})
}

func writeFakeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// bagOfWords hashes words into a unit vector, so texts that share words are
// close in cosine space.
func bagOfWords(text string) []float32 {
	v := make([]float32, embeddingDims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%embeddingDims]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / math.Sqrt(norm))
	}
	return v
}
