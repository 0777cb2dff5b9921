package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"RAG-Telebot/server/internal/apperr"
	"RAG-Telebot/server/internal/interfaces"
	"RAG-Telebot/server/internal/logging"
)

// ErrEmptyText is returned when inserting blank knowledge
var ErrEmptyText = errors.New("empty knowledge text")

var _ interfaces.KnowledgeStore = (*KnowledgeStore)(nil)

// KnowledgeStore embeds text and keeps it in a VectorIndex
type KnowledgeStore struct {
	index    interfaces.VectorIndex
	embedder interfaces.Embedder
	logger   *slog.Logger

	newID func() string
	now   func() time.Time
}

// NewKnowledgeStore creates a knowledge store over the given index and embedder
func NewKnowledgeStore(index interfaces.VectorIndex, embedder interfaces.Embedder, logger *slog.Logger) *KnowledgeStore {
	return &KnowledgeStore{
		index:    index,
		embedder: embedder,
		logger:   logging.Component(logger, "KnowledgeStore"),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Insert embeds text and stores it. It fails instead of storing a zero-vector
// when the embedding falls back.
func (s *KnowledgeStore) Insert(ctx context.Context, text, source string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.New("knowledge.insert", ErrEmptyText)
	}

	vector, ok := s.embedder.Embed(ctx, text)
	if !ok || IsZeroVector(vector) {
		s.logger.Warn("refusing to store knowledge without embedding", "preview", logging.Preview(text))
		return "", apperr.New("knowledge.insert", apperr.ErrEmbeddingFailed)
	}

	record := interfaces.KnowledgeRecord{
		ID:        s.newID(),
		Text:      text,
		Source:    source,
		Vector:    vector,
		CreatedAt: s.now(),
	}

	if err := s.index.Upsert(ctx, record); err != nil {
		s.logger.Error("failed to store knowledge", "preview", logging.Preview(text), "error", err)
		if errors.Is(err, apperr.ErrDimensionMismatch) {
			return "", apperr.New("knowledge.insert", err)
		}
		return "", apperr.New("knowledge.insert", fmt.Errorf("%w: %w", apperr.ErrStoreUnavailable, err))
	}

	s.logger.Info("knowledge stored", "id", record.ID, "source", source, "preview", logging.Preview(text))
	return record.ID, nil
}

// Search returns up to topK texts with similarity >= minScore, best first.
// It never fails: embedding or store errors produce an empty result.
func (s *KnowledgeStore) Search(ctx context.Context, query string, topK int, minScore float64) []string {
	hits := s.SearchScored(ctx, query, topK, minScore)
	texts := make([]string, 0, len(hits))
	for _, h := range hits {
		texts = append(texts, h.Record.Text)
	}
	return texts
}

// SearchScored is Search with the records and scores
func (s *KnowledgeStore) SearchScored(ctx context.Context, query string, topK int, minScore float64) []interfaces.ScoredRecord {
	if topK <= 0 || strings.TrimSpace(query) == "" {
		return []interfaces.ScoredRecord{}
	}

	vector, ok := s.embedder.Embed(ctx, query)
	if !ok {
		return []interfaces.ScoredRecord{}
	}

	hits, err := s.index.Search(ctx, vector, topK, float32(minScore))
	if err != nil {
		s.logger.Warn("knowledge search failed", "preview", logging.Preview(query), "error", err)
		return []interfaces.ScoredRecord{}
	}

	// bounds are re-applied regardless of backend; the tolerance absorbs float32 rounding
	filtered := make([]interfaces.ScoredRecord, 0, len(hits))
	for _, h := range hits {
		if float64(h.Score) < minScore-1e-6 {
			continue
		}
		filtered = append(filtered, h)
		if len(filtered) == topK {
			break
		}
	}
	return filtered
}

// Count returns the number of stored records
func (s *KnowledgeStore) Count(ctx context.Context) (int64, error) {
	return s.index.Count(ctx)
}
