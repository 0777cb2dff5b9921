package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"RAG-Telebot/server/internal/adapters"
	"RAG-Telebot/server/internal/engine"
	"RAG-Telebot/server/internal/observability"
	"RAG-Telebot/server/internal/prompts"
	"RAG-Telebot/server/internal/rag"
	"RAG-Telebot/server/internal/web"
	"RAG-Telebot/server/internal/workers"
)

const shutdownTimeout = 30 * time.Second

// ServeCmd runs the webhook server
type ServeCmd struct {
	RegisterWebhook bool `help:"Point Telegram at <RENDER_URL>/webhook/<token> on startup" name:"register-webhook"`
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if c.RegisterWebhook {
		if err := requireBaseURL(cfg); err != nil {
			return err
		}
	}

	logger, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	// Initialize knowledge store
	index, err := openIndex(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer index.Close()
	logger.Info("knowledge store ready", "backend", cfg.Knowledge.Backend, "dimension", index.Dimension())

	embedder := rag.NewEmbeddingService(cfg.AI.Embedding,
		rag.WithEmbeddingLogger(logger),
		rag.WithFallbackHook(metrics.ObserveEmbeddingFallback),
	)
	knowledge := rag.NewKnowledgeStore(index, embedder, logger)

	// Initialize AI components
	chat := engine.NewChatClient(cfg.AI.Chat, cfg.Server.BaseURL)
	promptBuilder, err := prompts.NewPromptBuilder(cfg.Conversation.Persona, cfg.Knowledge.KnowledgeHeader)
	if err != nil {
		return err
	}
	contexts := engine.NewContextStore(cfg.Conversation.MaxContext)
	orchestrator := engine.NewOrchestrator(knowledge, contexts, chat, promptBuilder,
		engine.PolicyFromConfig(cfg), metrics, logger)

	// Initialize Telegram delivery
	gateway, err := adapters.NewTelegramGateway(cfg.Telegram, logger)
	if err != nil {
		return err
	}
	if c.RegisterWebhook {
		if err := gateway.RegisterWebhook(ctx, cfg.WebhookURL()); err != nil {
			return err
		}
	}

	deduper, closeDeduper := openDeduper(cfg, logger)
	defer closeDeduper()

	pool := workers.NewPool(cfg.Queue.MaxWorkers, cfg.Queue.MaxQueueSize, logger)
	pool.Start(context.WithoutCancel(ctx))

	service := web.NewBotService(orchestrator, gateway, deduper, pool, metrics, cfg.Replies.Busy, logger)
	r := web.NewRouter(cfg, service, knowledge, metrics, logger,
		web.WithGatewayStats(gateway),
		web.WithConversationStats(contexts),
		web.WithEmbeddingCacheStats(embedder),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "bot", gateway.Username(),
			"workers", cfg.Queue.MaxWorkers, "queue", cfg.Queue.MaxQueueSize)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("server shutting down")
	case err, ok := <-serverErr:
		if ok {
			_ = pool.Stop(context.Background())
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Graceful shutdown: stop accepting updates, then drain queued replies
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", "error", err)
	}

	logger.Info("server stopped", "pool", pool.Stats())
	return nil
}
