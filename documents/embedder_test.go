package documents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEmbedder(baseURL string, maxBatch int) *httpEmbedder {
	return &httpEmbedder{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		apiKey:     "test-key",
		modelID:    "text-embedding-3-small",
		maxBatch:   maxBatch,
	}
}

func TestHTTPEmbedderBatchesAndPreservesOrder(t *testing.T) {
	var batchSizes []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "float", req.EncodingFormat)
		batchSizes = append(batchSizes, len(req.Input))

		resp := map[string]interface{}{"data": []map[string]interface{}{}}
		data := make([]map[string]interface{}, len(req.Input))
		for i, input := range req.Input {
			data[i] = map[string]interface{}{
				"index":     i,
				"embedding": []float64{float64(len(input)), 0.5},
			}
		}
		resp["data"] = data
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	embedder := newTestEmbedder(server.URL, 2)
	vectors, err := embedder.Embed(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)

	require.Len(t, vectors, 3)
	assert.Equal(t, []int{2, 1}, batchSizes)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(2), vectors[1][0])
	assert.Equal(t, float32(3), vectors[2][0])
}

func TestHTTPEmbedderReordersByResponseIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// Scrambled echo order, index fields intact.
		data := make([]map[string]interface{}, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]interface{}{
				"index":     i,
				"embedding": []float64{float64(len(req.Input[i])), 0.5},
			})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
	defer server.Close()

	embedder := newTestEmbedder(server.URL, 16)
	vectors, err := embedder.Embed(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)

	require.Len(t, vectors, 3)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(2), vectors[1][0])
	assert.Equal(t, float32(3), vectors[2][0])
}

func TestHTTPEmbedderRejectsEmptyInput(t *testing.T) {
	embedder := newTestEmbedder("http://unused", 16)

	_, err := embedder.Embed(context.Background(), []string{"ok", "  "})
	assert.True(t, IsValidation(err))

	vectors, err := embedder.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestHTTPEmbedderReportsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	embedder := newTestEmbedder(server.URL, 16)
	_, err := embedder.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbedder)
	assert.Contains(t, err.Error(), "429")
}

func TestHTTPEmbedderCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{},
		})
	}))
	defer server.Close()

	embedder := newTestEmbedder(server.URL, 16)
	_, err := embedder.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbedder)
}
