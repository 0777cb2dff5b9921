package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"RAG-Telebot/server/internal/apperr"
	"RAG-Telebot/server/internal/interfaces"
)

var _ interfaces.VectorIndex = (*MemoryIndex)(nil)

// MemoryIndex is an in-process VectorIndex with linear cosine search.
// Records are kept in insertion order, which is also the tie-break order.
type MemoryIndex struct {
	mu        sync.RWMutex
	records   []interfaces.KnowledgeRecord
	byID      map[string]int
	dimension int
}

// NewMemoryIndex creates an empty index for vectors of the given dimension
func NewMemoryIndex(dimension int) *MemoryIndex {
	return &MemoryIndex{
		byID:      make(map[string]int),
		dimension: dimension,
	}
}

func (m *MemoryIndex) EnsureCollection(ctx context.Context) error {
	return nil
}

// Upsert stores a record. Re-using an id replaces the record in place and keeps its position.
func (m *MemoryIndex) Upsert(ctx context.Context, record interfaces.KnowledgeRecord) error {
	if len(record.Vector) != m.dimension {
		return fmt.Errorf("%w: got %d, want %d", apperr.ErrDimensionMismatch, len(record.Vector), m.dimension)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	vec := make([]float32, len(record.Vector))
	copy(vec, record.Vector)
	record.Vector = vec

	if idx, ok := m.byID[record.ID]; ok {
		m.records[idx] = record
		return nil
	}
	m.byID[record.ID] = len(m.records)
	m.records = append(m.records, record)
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, vector []float32, limit int, minScore float32) ([]interfaces.ScoredRecord, error) {
	if len(vector) != m.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", apperr.ErrDimensionMismatch, len(vector), m.dimension)
	}
	if limit <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]interfaces.ScoredRecord, 0)
	for _, rec := range m.records {
		score, err := CosineSimilarity(vector, rec.Vector)
		if err != nil || score < minScore {
			continue
		}
		results = append(results, interfaces.ScoredRecord{Record: rec, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *MemoryIndex) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

func (m *MemoryIndex) Dimension() int {
	return m.dimension
}

func (m *MemoryIndex) Close() error {
	return nil
}
