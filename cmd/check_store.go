package main

import (
	"context"
	"fmt"
	"strings"

	"RAG-Telebot/server/internal/config"
	"RAG-Telebot/server/internal/rag"
)

// CheckStoreCmd prints connectivity and contents of the configured knowledge store
type CheckStoreCmd struct {
	Sample string `help:"Optional query; prints the top matches with scores" default:""`
}

func (c *CheckStoreCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	logger, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*storeSetupTimeout)
	defer cancel()

	fmt.Printf("Backend:    %s\n", cfg.Knowledge.Backend)

	if cfg.Knowledge.Backend == config.BackendQdrant {
		if err := describeQdrant(ctx, cfg); err != nil {
			return err
		}
	}

	index, err := openIndex(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer index.Close()

	count, err := index.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count records: %w", err)
	}
	fmt.Printf("Dimension:  %d\n", index.Dimension())
	fmt.Printf("Records:    %d\n", count)

	if strings.TrimSpace(c.Sample) == "" {
		return nil
	}

	embedder := rag.NewEmbeddingService(cfg.AI.Embedding, rag.WithEmbeddingLogger(logger))
	store := rag.NewKnowledgeStore(index, embedder, logger)
	hits := store.SearchScored(ctx, c.Sample, cfg.Knowledge.TopK, cfg.Knowledge.MinScore)
	fmt.Printf("Matches for %q (top_k=%d, min_score=%.2f): %d\n",
		c.Sample, cfg.Knowledge.TopK, cfg.Knowledge.MinScore, len(hits))
	for i, h := range hits {
		fmt.Printf("  %d. [%.3f] %s\n", i+1, h.Score, h.Record.Text)
	}
	return nil
}

func describeQdrant(ctx context.Context, cfg *config.Config) error {
	q, err := rag.NewQdrantIndex(cfg.Database.Qdrant, cfg.AI.Embedding.Dimension, nil)
	if err != nil {
		return err
	}
	defer q.Close()

	version, err := q.HealthCheck(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Qdrant:     %s (version %s)\n", cfg.Database.Qdrant.URL, version)

	names, err := q.ListCollections(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Collections: %s\n", strings.Join(names, ", "))

	found := false
	for _, n := range names {
		if n == cfg.Database.Qdrant.Collection {
			found = true
			break
		}
	}
	if !found {
		fmt.Printf("Collection %q does not exist yet; it will be created\n", cfg.Database.Qdrant.Collection)
	}
	return nil
}
