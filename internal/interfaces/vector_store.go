package interfaces

import (
	"context"
	"time"
)

// KnowledgeRecord is one append-only entry in the knowledge collection
type KnowledgeRecord struct {
	ID        string
	Text      string
	Source    string // provenance tag, e.g. "user" or "admin_<id>"
	Vector    []float32
	CreatedAt time.Time
}

// ScoredRecord is a search hit with its cosine similarity
type ScoredRecord struct {
	Record KnowledgeRecord
	Score  float32
}

// VectorIndex is the storage boundary for knowledge records.
// Implementations must reject vectors whose length differs from Dimension.
type VectorIndex interface {
	// EnsureCollection creates the backing collection if it does not exist
	EnsureCollection(ctx context.Context) error

	// Upsert stores a record
	Upsert(ctx context.Context, record KnowledgeRecord) error

	// Search returns at most limit records with score >= minScore,
	// ordered by descending score, ties in insertion order
	Search(ctx context.Context, vector []float32, limit int, minScore float32) ([]ScoredRecord, error)

	// Count returns the number of stored records
	Count(ctx context.Context) (int64, error)

	// Dimension returns the configured vector length
	Dimension() int

	Close() error
}

// Embedder turns text into a fixed-length vector. ok is false when the
// returned vector is the zero-vector fallback.
type Embedder interface {
	Embed(ctx context.Context, text string) (vector []float32, ok bool)
	Dimension() int
}

// KnowledgeStore is what the orchestrator sees of stored knowledge
type KnowledgeStore interface {
	Insert(ctx context.Context, text, source string) (string, error)
	Search(ctx context.Context, query string, topK int, minScore float64) []string
}
