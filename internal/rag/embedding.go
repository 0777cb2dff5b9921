package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"RAG-Telebot/server/internal/apperr"
	"RAG-Telebot/server/internal/config"
	"RAG-Telebot/server/internal/interfaces"
	"RAG-Telebot/server/internal/logging"
)

const (
	defaultEmbeddingTimeout = 30 * time.Second
	defaultCacheTTL         = 24 * time.Hour
	maxCacheEntries         = 10000
)

var _ interfaces.Embedder = (*EmbeddingService)(nil)

// EmbeddingCache stores cached embeddings
type EmbeddingCache struct {
	cache map[string]*CachedEmbedding
	ttl   time.Duration
	mu    sync.RWMutex
}

// CachedEmbedding holds a cached embedding with expiration
type CachedEmbedding struct {
	Vector    []float32
	CreatedAt time.Time
}

// EmbeddingService converts text to vectors through an OpenAI-compatible
// embeddings endpoint. It never returns an error: failures yield a zero-vector.
type EmbeddingService struct {
	client     *openai.Client
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	timeout    time.Duration
	cache      *EmbeddingCache
	logger     *slog.Logger
	onFallback func()
}

// EmbeddingOption customizes an EmbeddingService
type EmbeddingOption func(*EmbeddingService)

// WithFallbackHook registers a callback invoked on every zero-vector fallback
func WithFallbackHook(fn func()) EmbeddingOption {
	return func(s *EmbeddingService) {
		s.onFallback = fn
	}
}

// WithEmbeddingLogger sets the logger
func WithEmbeddingLogger(logger *slog.Logger) EmbeddingOption {
	return func(s *EmbeddingService) {
		s.logger = logging.Component(logger, "Embedding")
	}
}

// WithHTTPClient replaces the HTTP client used for upstream calls
func WithHTTPClient(client *http.Client) EmbeddingOption {
	return func(s *EmbeddingService) {
		s.client = newOpenAIClient(s.baseURL, s.apiKey, client)
	}
}

// NewEmbeddingService creates a new embedding service
func NewEmbeddingService(cfg config.EmbeddingConfig, opts ...EmbeddingOption) *EmbeddingService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultEmbeddingTimeout
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	s := &EmbeddingService{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		timeout:   timeout,
		cache:     &EmbeddingCache{cache: make(map[string]*CachedEmbedding), ttl: ttl},
		logger:    logging.Component(nil, "Embedding"),
	}
	s.client = newOpenAIClient(cfg.BaseURL, cfg.APIKey, &http.Client{Timeout: timeout})

	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newOpenAIClient(baseURL, apiKey string, httpClient *http.Client) *openai.Client {
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	clientCfg.HTTPClient = httpClient
	return openai.NewClientWithConfig(clientCfg)
}

// Dimension returns the configured vector length
func (s *EmbeddingService) Dimension() int {
	return s.dimension
}

// Embed returns the embedding of text. Empty or whitespace-only text maps to the
// zero-vector without an upstream call. On any upstream failure the zero-vector
// is returned with ok=false.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, bool) {
	if strings.TrimSpace(text) == "" {
		s.logger.Debug("empty text, returning zero-vector")
		return ZeroVector(s.dimension), false
	}

	if vec, ok := s.cache.Get(text); ok {
		return vec, true
	}

	vec, err := s.createEmbedding(ctx, text)
	if err != nil {
		s.logger.Warn("embedding failed, using zero-vector",
			"preview", logging.Preview(text),
			"error", describeUpstreamError(err),
		)
		if s.onFallback != nil {
			s.onFallback()
		}
		return ZeroVector(s.dimension), false
	}

	s.cache.Put(text, vec)
	return vec, true
}

// createEmbedding performs the upstream call with a bounded timeout
func (s *EmbeddingService) createEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(s.model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding in response")
	}

	vector := resp.Data[0].Embedding
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", apperr.ErrDimensionMismatch, len(vector), s.dimension)
	}
	if !IsValidVector(vector) {
		return nil, errors.New("embedding contains NaN or Inf")
	}

	return NormalizeVector(vector), nil
}

// describeUpstreamError adds the HTTP status to OpenAI-style errors for log output
func describeUpstreamError(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("HTTP %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Sprintf("HTTP %d: %v", reqErr.HTTPStatusCode, reqErr.Err)
	}
	return err.Error()
}

// Get returns a cached, unexpired embedding
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.cache[text]
	if !ok || time.Since(cached.CreatedAt) > c.ttl {
		return nil, false
	}
	return cached.Vector, true
}

// Put caches an embedding, pruning expired entries when the cache is full
func (c *EmbeddingCache) Put(text string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.cache) >= maxCacheEntries {
		for k, v := range c.cache {
			if time.Since(v.CreatedAt) > c.ttl {
				delete(c.cache, k)
			}
		}
		if len(c.cache) >= maxCacheEntries {
			c.cache = make(map[string]*CachedEmbedding)
		}
	}

	c.cache[text] = &CachedEmbedding{
		Vector:    vector,
		CreatedAt: time.Now(),
	}
}

// Len returns the number of cached embeddings
func (c *EmbeddingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func (s *EmbeddingService) clearCache() {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	s.cache.cache = make(map[string]*CachedEmbedding)
}

// CacheSize returns the number of cached embeddings
func (s *EmbeddingService) CacheSize() int {
	return s.cache.Len()
}
