package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"attune_server/logger"
)

func testLimiter(t *testing.T) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(1000, 10*time.Millisecond, 1000)
	t.Cleanup(rl.Stop)
	return rl
}

// vectorFor derives a deterministic 3-dim vector from the text so tests can
// verify order preservation.
func vectorFor(text string) []float32 {
	var sum float32
	for _, r := range text {
		sum += float32(r)
	}
	return []float32{sum, sum + 1, sum + 2}
}

func newEmbedProvider(t *testing.T, inFlight *int64, maxInFlight *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		if inFlight != nil {
			cur := atomic.AddInt64(inFlight, 1)
			for {
				max := atomic.LoadInt64(maxInFlight)
				if cur <= max || atomic.CompareAndSwapInt64(maxInFlight, max, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			defer atomic.AddInt64(inFlight, -1)
		}

		var req struct {
			Instances []struct {
				Content string `json:"content"`
			} `json:"instances"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Instances, 1)

		resp := map[string]interface{}{
			"predictions": []map[string]interface{}{
				{"embeddings": map[string]interface{}{"values": vectorFor(req.Instances[0].Content)}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestEmbedding(t *testing.T, endpoint string, maxConcurrent int) *EmbeddingService {
	t.Helper()
	es, err := NewEmbeddingService(logger.NewNop(), testLimiter(t), EmbeddingConfig{
		Endpoint:      endpoint,
		Model:         "test-model",
		Dimension:     3,
		MaxConcurrent: maxConcurrent,
		TokenSource:   oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}),
	})
	require.NoError(t, err)
	return es
}

func TestEmbeddingService_Embed(t *testing.T) {
	srv := newEmbedProvider(t, nil, nil)
	defer srv.Close()

	es := newTestEmbedding(t, srv.URL, 2)

	vec, err := es.Embed(context.Background(), "curious")
	require.NoError(t, err)
	assert.Equal(t, vectorFor("curious"), vec)
}

func TestEmbeddingService_EmbedRejectsEmptyText(t *testing.T) {
	srv := newEmbedProvider(t, nil, nil)
	defer srv.Close()

	es := newTestEmbedding(t, srv.URL, 2)
	_, err := es.Embed(context.Background(), "   ")
	assert.True(t, IsValidationError(err))
}

func TestEmbeddingService_EmbedBatchPreservesOrder(t *testing.T) {
	srv := newEmbedProvider(t, nil, nil)
	defer srv.Close()

	es := newTestEmbedding(t, srv.URL, 2)

	texts := []string{"curious", "direct", "warm", "analytical", "patient"}
	vecs, err := es.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, text := range texts {
		assert.Equal(t, vectorFor(text), vecs[i], "result %d out of order", i)
	}
}

func TestEmbeddingService_EmbedBatchBoundsConcurrency(t *testing.T) {
	var inFlight, maxInFlight int64
	srv := newEmbedProvider(t, &inFlight, &maxInFlight)
	defer srv.Close()

	es := newTestEmbedding(t, srv.URL, 2)

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("trait-%d", i)
	}
	_, err := es.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt64(&maxInFlight), int64(2), "in-flight calls must not exceed maxConcurrent")
}

func TestEmbeddingService_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"predictions": []map[string]interface{}{
				{"embeddings": map[string]interface{}{"values": []float32{1, 2}}},
			},
		})
	}))
	defer srv.Close()

	es := newTestEmbedding(t, srv.URL, 2)
	_, err := es.Embed(context.Background(), "curious")
	require.Error(t, err)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Error(), "dimension mismatch")
}

func TestEmbeddingService_EmptyResponseFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"predictions": []interface{}{}})
	}))
	defer srv.Close()

	es := newTestEmbedding(t, srv.URL, 2)
	_, err := es.Embed(context.Background(), "curious")
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
}

func TestEmbeddingService_ProviderErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	es := newTestEmbedding(t, srv.URL, 2)
	_, err := es.Embed(context.Background(), "curious")
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Error(), "429")
}

func TestEmbeddingService_EmbedBatchFailsFast(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	es := newTestEmbedding(t, srv.URL, 2)
	_, err := es.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e", "f"})
	require.Error(t, err)
	// The first failing chunk aborts the batch; later chunks never start.
	assert.LessOrEqual(t, atomic.LoadInt64(&calls), int64(4))
}
