package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"RAG-Telebot/server/internal/adapters"
	"RAG-Telebot/server/internal/config"
	"RAG-Telebot/server/internal/logging"
	"RAG-Telebot/server/internal/observability"
)

const (
	serviceName     = "ragbot"
	maxUpdateBytes  = 1 << 20
	statsTimeout    = 5 * time.Second
	jsonContentType = "application/json"
)

// KnowledgeCounter reports the number of stored knowledge records
type KnowledgeCounter interface {
	Count(ctx context.Context) (int64, error)
}

// GatewayReporter exposes Telegram delivery counters
type GatewayReporter interface {
	Stats() adapters.GatewayStats
}

// ConversationReporter exposes the size of the per-user context store
type ConversationReporter interface {
	Users() int
	MaxTurns() int
}

// EmbeddingCacheReporter exposes the number of cached embeddings
type EmbeddingCacheReporter interface {
	CacheSize() int
}

// ConversationStats is the context store part of the stats response
type ConversationStats struct {
	Users    int `json:"users"`
	MaxTurns int `json:"max_turns"`
}

type Handlers struct {
	config        *config.Config
	service       *BotService
	knowledge     KnowledgeCounter
	gateway       GatewayReporter
	conversations ConversationReporter
	embeddings    EmbeddingCacheReporter
	logger        *slog.Logger
	started       time.Time
}

// HandlerOption adds an optional stats source
type HandlerOption func(*Handlers)

func WithGatewayStats(g GatewayReporter) HandlerOption {
	return func(h *Handlers) { h.gateway = g }
}

func WithConversationStats(c ConversationReporter) HandlerOption {
	return func(h *Handlers) { h.conversations = c }
}

func WithEmbeddingCacheStats(e EmbeddingCacheReporter) HandlerOption {
	return func(h *Handlers) { h.embeddings = e }
}

func NewHandlers(cfg *config.Config, service *BotService, knowledge KnowledgeCounter, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		config:    cfg,
		service:   service,
		knowledge: knowledge,
		logger:    logging.Component(logger, "HTTP"),
		started:   time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": serviceName,
	})
}

// Webhook accepts Telegram updates. The path token must match the bot token
// and the body must be JSON; anything else is refused with 403.
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if h.config.Telegram.Token == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.config.Telegram.Token)) != 1 {
		h.logger.Warn("webhook call with invalid token", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != jsonContentType {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "content type must be application/json"})
		return
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBytes)).Decode(&update); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid update"})
		return
	}

	if err := h.service.Dispatch(r.Context(), update); err != nil {
		// the pool is shutting down; let Telegram redeliver later
		h.logger.Warn("update not dispatched", "update_id", update.UpdateID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// StatsResponse is the body of GET /api/v1/stats
type StatsResponse struct {
	Service          string        `json:"service"`
	Backend          string        `json:"backend"`
	UptimeSeconds    int64         `json:"uptime_seconds"`
	KnowledgeRecords *int64        `json:"knowledge_records,omitempty"`
	KnowledgeError   string        `json:"knowledge_error,omitempty"`
	Dispatch         DispatchStats `json:"dispatch"`
	Queue            any           `json:"queue"`

	Gateway        *adapters.GatewayStats `json:"gateway,omitempty"`
	Conversations  *ConversationStats     `json:"conversations,omitempty"`
	EmbeddingCache *int                   `json:"embedding_cache_entries,omitempty"`
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Service:       serviceName,
		Backend:       h.config.Knowledge.Backend,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Dispatch:      h.service.Stats(),
		Queue:         h.service.PoolStats(),
	}

	if h.gateway != nil {
		gs := h.gateway.Stats()
		resp.Gateway = &gs
	}
	if h.conversations != nil {
		resp.Conversations = &ConversationStats{
			Users:    h.conversations.Users(),
			MaxTurns: h.conversations.MaxTurns(),
		}
	}
	if h.embeddings != nil {
		n := h.embeddings.CacheSize()
		resp.EmbeddingCache = &n
	}

	if h.knowledge != nil {
		ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
		defer cancel()
		n, err := h.knowledge.Count(ctx)
		if err != nil {
			resp.KnowledgeError = "store unavailable"
			h.logger.Warn("knowledge count failed", "error", err)
		} else {
			resp.KnowledgeRecords = &n
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// requestLogger logs method, path, status and latency of every request
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				// route pattern keeps the bot token out of the log
				path = rctx.RoutePattern()
			}
			logger.Debug("request",
				"method", r.Method,
				"path", path,
				"status", rec.status,
				"duration", time.Since(start),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func NewRouter(cfg *config.Config, service *BotService, knowledge KnowledgeCounter, metrics *observability.Metrics, logger *slog.Logger, opts ...HandlerOption) *chi.Mux {
	r := chi.NewRouter()
	handlers := NewHandlers(cfg, service, knowledge, logger, opts...)

	r.Use(requestLogger(handlers.logger))

	// Public routes
	r.Get("/health", handlers.HealthCheck)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/webhook/{token}", handlers.Webhook)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(corsMiddleware)
		r.Get("/stats", handlers.Stats)
	})

	return r
}
