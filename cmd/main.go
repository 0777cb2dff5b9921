package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alecthomas/kong"

	"RAG-Telebot/server/internal/apperr"
	"RAG-Telebot/server/internal/config"
	"RAG-Telebot/server/internal/interfaces"
	"RAG-Telebot/server/internal/logging"
	"RAG-Telebot/server/internal/rag"
	"RAG-Telebot/server/internal/storage"
)

const storeSetupTimeout = 15 * time.Second

// Globals are flags shared by every command
type Globals struct {
	Config  string `help:"Path to the YAML config file" default:"configs/config.yaml" type:"path"`
	EnvFile string `help:"Path to a .env file loaded before the environment" default:".env" name:"env-file"`
}

var cli struct {
	Globals

	Serve      ServeCmd      `cmd:"" default:"withargs" help:"Run the webhook server (default)"`
	CheckStore CheckStoreCmd `cmd:"" name:"check-store" help:"Check the knowledge store connection and contents"`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("ragbot"),
		kong.Description("Telegram chatbot with retrieval-augmented replies"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}

// loadConfig reads .env, the YAML file and the environment, then validates the result
func loadConfig(g *Globals) (*config.Config, error) {
	if err := config.LoadEnvFile(g.EnvFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return logger, closer, nil
}

// openIndex connects the configured vector backend and prepares its collection
func openIndex(ctx context.Context, cfg *config.Config, logger *slog.Logger) (interfaces.VectorIndex, error) {
	dim := cfg.AI.Embedding.Dimension

	var index interfaces.VectorIndex
	switch cfg.Knowledge.Backend {
	case config.BackendQdrant:
		q, err := rag.NewQdrantIndex(cfg.Database.Qdrant, dim, logger)
		if err != nil {
			return nil, err
		}
		index = q
	case config.BackendMySQL:
		store, err := storage.NewMySQLStore(cfg.Database.MySQL)
		if err != nil {
			return nil, err
		}
		index = storage.NewSQLIndex(store, cfg.Database.Qdrant.Collection, dim)
	case config.BackendMemory:
		logger.Warn("using in-memory knowledge store; knowledge is lost on restart")
		index = rag.NewMemoryIndex(dim)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Knowledge.Backend)
	}

	ctx, cancel := context.WithTimeout(ctx, storeSetupTimeout)
	defer cancel()
	if err := index.EnsureCollection(ctx); err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("failed to prepare knowledge store: %w", err)
	}
	return index, nil
}

// openDeduper prefers Redis and falls back to the in-process deduper
func openDeduper(cfg *config.Config, logger *slog.Logger) (interfaces.UpdateDeduper, func()) {
	if cfg.Database.Redis.Addr == "" {
		return storage.NewMemoryDeduper(cfg.Database.Redis.DedupTTL), func() {}
	}

	redisStore, err := storage.NewRedisStore(cfg.Database.Redis)
	if err != nil {
		logger.Warn("redis unavailable, using in-memory update dedup", "error", err)
		return storage.NewMemoryDeduper(cfg.Database.Redis.DedupTTL), func() {}
	}
	logger.Info("redis connected", "addr", cfg.Database.Redis.Addr)
	return redisStore, func() { _ = redisStore.Close() }
}

func requireBaseURL(cfg *config.Config) error {
	if cfg.Server.BaseURL == "" {
		return fmt.Errorf("config: %w RENDER_URL", apperr.ErrMissingConfig)
	}
	return nil
}
