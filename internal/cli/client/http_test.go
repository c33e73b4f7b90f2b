package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *APIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAPIClientWithConfig(testKey, srv.URL+"/")
}

func TestAPIClient_Get_UnwrapsEnvelope(t *testing.T) {
	api := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+testKey, r.Header.Get("Authorization"))
		assert.Equal(t, "/documents/doc-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"doc-1","title":"Handbook"}}`))
	})

	var doc Document
	require.NoError(t, api.Get(context.Background(), "/documents/doc-1", &doc))
	assert.Equal(t, "doc-1", doc.ID)
	assert.Equal(t, "Handbook", doc.Title)
}

func TestAPIClient_Post_SendsJSON(t *testing.T) {
	api := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req CreateDocumentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Policy", req.Title)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"doc-9","title":"Policy"}}`))
	})

	var doc Document
	require.NoError(t, api.Post(context.Background(), "/documents", CreateDocumentRequest{Title: "Policy", Content: "x"}, &doc))
	assert.Equal(t, "doc-9", doc.ID)
}

func TestAPIClient_Delete_NoContent(t *testing.T) {
	api := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	assert.NoError(t, api.Delete(context.Background(), "/documents/doc-1"))
}

func TestAPIClient_ErrorEnvelope(t *testing.T) {
	api := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"document not found"}`))
	})

	err := api.Get(context.Background(), "/documents/missing", nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "document not found", apiErr.Message)
	assert.Empty(t, apiErr.Code)
}

func TestAPIClient_NonJSONError(t *testing.T) {
	api := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	err := api.Get(context.Background(), "/documents", nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "bad gateway", apiErr.Message)
}

func TestAPIClient_Ask(t *testing.T) {
	api := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "What is the refund window?", body["question"])
		assert.Equal(t, float64(5), body["k"])

		_, _ = w.Write([]byte(`{
			"requestId": "req-1",
			"answer": "30 days [Source 1]",
			"sources": [{"label":"Source 1","document_id":"doc-1","document_title":"Policy","page_no":2,"similarity":0.82,"preview":"Refunds..."}],
			"metrics": {"totalLatency": 1200, "chunksRetrieved": 1, "totalChunksFound": 4}
		}`))
	})

	result, err := api.Ask(context.Background(), "What is the refund window?", 5)
	require.NoError(t, err)

	assert.Equal(t, "req-1", result.RequestID)
	assert.Equal(t, "30 days [Source 1]", result.Answer)
	require.Len(t, result.Sources, 1)
	require.NotNil(t, result.Sources[0].PageNo)
	assert.Equal(t, 2, *result.Sources[0].PageNo)
	assert.Equal(t, int64(1200), result.Metrics.TotalLatency)
	assert.Equal(t, 4, result.Metrics.TotalChunksFound)
}

func TestAPIClient_Ask_OmitsDefaultK(t *testing.T) {
	api := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, hasK := body["k"]
		assert.False(t, hasK)
		_, _ = w.Write([]byte(`{"requestId":"req-2","answer":"ok","sources":[],"metrics":{}}`))
	})

	_, err := api.Ask(context.Background(), "hello", 0)
	assert.NoError(t, err)
}

func TestAPIClient_Ask_RateLimited(t *testing.T) {
	api := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error_code":"RATE_429","message":"rate limit exceeded","requestId":"req-3"}`))
	})

	_, err := api.Ask(context.Background(), "hello", 0)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "RATE_429", apiErr.Code)
	assert.Equal(t, "req-3", apiErr.RequestID)
	assert.Equal(t, 60, apiErr.RetryAfter)
	assert.Contains(t, apiErr.Error(), "RATE_429")
}

func TestAPIClient_UploadFile(t *testing.T) {
	content := []byte("original file bytes")
	path := filepath.Join(t.TempDir(), "policy.txt")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	var received []byte
	api := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("Authorization"), "presigned uploads carry no API key")
		received, _ = io.ReadAll(r.Body)
	})

	var last int64
	err := api.UploadFile(context.Background(), api.baseURL+"/bucket/key", path, "text/plain", func(current, total int64) {
		last = current
	})
	require.NoError(t, err)
	assert.Equal(t, content, received)
	assert.Equal(t, int64(len(content)), last)
}

func TestAPIClient_UploadFile_Rejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	api := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("SignatureDoesNotMatch"))
	})

	err := api.UploadFile(context.Background(), api.baseURL+"/bucket/key", path, "text/plain", nil)
	assert.ErrorContains(t, err, "status 403")
}

func TestProgressReader_ReportsProgress(t *testing.T) {
	data := []byte("hello world this is test data")

	var calls []int64
	pr := &progressReader{
		src:   bytes.NewReader(data),
		total: int64(len(data)),
		report: func(current, total int64) {
			assert.Equal(t, int64(len(data)), total)
			calls = append(calls, current)
		},
	}

	result, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, data, result)
	require.NotEmpty(t, calls)
	assert.Equal(t, int64(len(data)), calls[len(calls)-1])
	assert.IsNonDecreasing(t, calls)
}
