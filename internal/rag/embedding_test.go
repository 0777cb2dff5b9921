package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"RAG-Telebot/server/internal/config"
)

func embeddingBody(vec []float32) string {
	data, _ := json.Marshal(map[string]any{
		"object": "list",
		"model":  "test-embedding",
		"data": []map[string]any{
			{"object": "embedding", "index": 0, "embedding": vec},
		},
		"usage": map[string]int{"prompt_tokens": 1, "total_tokens": 1},
	})
	return string(data)
}

func newTestEmbedding(t *testing.T, handler http.HandlerFunc, dim int, opts ...EmbeddingOption) (*EmbeddingService, *atomic.Int64) {
	t.Helper()
	calls := atomic.NewInt64(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Inc()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	svc := NewEmbeddingService(config.EmbeddingConfig{
		BaseURL:   srv.URL + "/v1",
		APIKey:    "test-key",
		Model:     "test-embedding",
		Dimension: dim,
		Timeout:   200 * time.Millisecond,
	}, opts...)
	return svc, calls
}

func TestEmbed_Success(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	svc, calls := newTestEmbedding(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, embeddingBody([]float32{3, 0, 4}))
	}, 3)

	vec, ok := svc.Embed(context.Background(), "hello world")
	require.True(t, ok)
	require.Len(t, vec, 3)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[2], 1e-6)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "/v1/embeddings", gotPath)
	assert.Equal(t, "test-embedding", gotBody["model"])
	assert.Equal(t, []any{"hello world"}, gotBody["input"])

	// served from cache
	vec2, ok := svc.Embed(context.Background(), "hello world")
	assert.True(t, ok)
	assert.Equal(t, vec, vec2)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, 1, svc.CacheSize())
}

func TestEmbed_FallbackAlwaysHasConfiguredDimension(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
		}},
		{"rate limited", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
		}},
		{"malformed json", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"data": [`)
		}},
		{"empty data", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"object":"list","data":[]}`)
		}},
		{"wrong dimension", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, embeddingBody([]float32{1, 2}))
		}},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fallbacks := atomic.NewInt64(0)
			svc, _ := newTestEmbedding(t, tt.handler, 4, WithFallbackHook(func() { fallbacks.Inc() }))

			vec, ok := svc.Embed(context.Background(), "some text")
			assert.False(t, ok)
			assert.Len(t, vec, 4)
			assert.True(t, IsZeroVector(vec))
			assert.Equal(t, int64(1), fallbacks.Load())
			assert.Equal(t, 0, svc.CacheSize(), "fallbacks are never cached")
		})
	}
}

func TestEmbed_UnreachableHost(t *testing.T) {
	svc := NewEmbeddingService(config.EmbeddingConfig{
		BaseURL:   "http://127.0.0.1:1/v1",
		Model:     "m",
		Dimension: 8,
		Timeout:   200 * time.Millisecond,
	})

	vec, ok := svc.Embed(context.Background(), "anything")
	assert.False(t, ok)
	assert.Len(t, vec, 8)
}

func TestEmbed_EmptyTextSkipsUpstream(t *testing.T) {
	svc, calls := newTestEmbedding(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, embeddingBody([]float32{1, 1, 1}))
	}, 3)

	for _, text := range []string{"", "   ", "\n\t"} {
		vec, ok := svc.Embed(context.Background(), text)
		assert.False(t, ok)
		assert.Equal(t, []float32{0, 0, 0}, vec)
	}
	assert.Equal(t, int64(0), calls.Load())
}

func TestEmbed_WithHTTPClient(t *testing.T) {
	svc, calls := newTestEmbedding(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, embeddingBody([]float32{0, 1}))
	}, 2, WithHTTPClient(&http.Client{Timeout: time.Second}))

	_, ok := svc.Embed(context.Background(), "x")
	assert.True(t, ok)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, 2, svc.Dimension())

	svc.clearCache()
	assert.Equal(t, 0, svc.CacheSize())
}
