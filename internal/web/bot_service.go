package web

import (
	"context"
	"errors"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/atomic"

	"RAG-Telebot/server/internal/adapters"
	"RAG-Telebot/server/internal/apperr"
	"RAG-Telebot/server/internal/engine"
	"RAG-Telebot/server/internal/interfaces"
	"RAG-Telebot/server/internal/logging"
	"RAG-Telebot/server/internal/observability"
	"RAG-Telebot/server/internal/workers"
)

const busyReplyTimeout = 10 * time.Second

// Responder produces the reply for one inbound message
type Responder interface {
	Handle(ctx context.Context, msg interfaces.InboundMessage) engine.Reply
}

// BotService moves Telegram updates from the webhook onto the worker pool
// and delivers the replies.
type BotService struct {
	responder Responder
	messenger interfaces.Messenger
	deduper   interfaces.UpdateDeduper
	pool      *workers.Pool
	parser    *adapters.CommandParser
	metrics   *observability.Metrics
	busyReply string
	logger    *slog.Logger

	received   *atomic.Int64
	ignored    *atomic.Int64
	duplicates *atomic.Int64
	sendErrors *atomic.Int64
}

// DispatchStats is a snapshot of dispatch counters
type DispatchStats struct {
	Received   int64 `json:"received"`
	Ignored    int64 `json:"ignored"`
	Duplicates int64 `json:"duplicates"`
	SendErrors int64 `json:"send_errors"`
}

// NewBotService wires the dispatch path. deduper and metrics may be nil.
func NewBotService(
	responder Responder,
	messenger interfaces.Messenger,
	deduper interfaces.UpdateDeduper,
	pool *workers.Pool,
	metrics *observability.Metrics,
	busyReply string,
	logger *slog.Logger,
) *BotService {
	return &BotService{
		responder:  responder,
		messenger:  messenger,
		deduper:    deduper,
		pool:       pool,
		parser:     adapters.NewCommandParser(),
		metrics:    metrics,
		busyReply:  busyReply,
		logger:     logging.Component(logger, "BotService"),
		received:   atomic.NewInt64(0),
		ignored:    atomic.NewInt64(0),
		duplicates: atomic.NewInt64(0),
		sendErrors: atomic.NewInt64(0),
	}
}

// Dispatch queues an update for processing and returns without waiting for the reply.
// A full queue is answered with the busy reply and is not an error.
func (s *BotService) Dispatch(ctx context.Context, update tgbotapi.Update) error {
	s.received.Inc()

	msg, ok := adapters.InboundFromUpdate(update, s.parser)
	if !ok {
		s.ignored.Inc()
		s.logger.Debug("update ignored", "update_id", update.UpdateID)
		return nil
	}

	if s.deduper != nil {
		first, err := s.deduper.MarkUpdate(ctx, msg.UpdateID)
		if err != nil {
			s.logger.Warn("update dedup unavailable", "update_id", msg.UpdateID, "error", err)
		} else if !first {
			s.duplicates.Inc()
			s.metrics.ObserveDuplicate()
			s.logger.Info("duplicate update dropped", "update_id", msg.UpdateID)
			return nil
		}
	}

	err := s.pool.Submit(func(ctx context.Context) {
		s.process(ctx, msg)
	})
	if errors.Is(err, apperr.ErrQueueFull) {
		s.metrics.ObserveQueueRejected()
		s.logger.Warn("queue full, sending busy reply", "user_id", msg.UserID, "update_id", msg.UpdateID)
		s.sendBusy(ctx, msg.ChatID)
		return nil
	}
	return err
}

func (s *BotService) process(ctx context.Context, msg interfaces.InboundMessage) {
	reply := s.responder.Handle(ctx, msg)
	if reply.Text == "" {
		return
	}
	if err := s.messenger.Send(ctx, msg.ChatID, reply.Text); err != nil {
		s.sendErrors.Inc()
		s.logger.Error("failed to deliver reply", "chat_id", msg.ChatID, "user_id", msg.UserID, "error", err)
	}
}

func (s *BotService) sendBusy(ctx context.Context, chatID int64) {
	if s.busyReply == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), busyReplyTimeout)
	defer cancel()
	if err := s.messenger.Send(ctx, chatID, s.busyReply); err != nil {
		s.sendErrors.Inc()
		s.logger.Error("failed to deliver busy reply", "chat_id", chatID, "error", err)
	}
}

// Stats returns dispatch counters
func (s *BotService) Stats() DispatchStats {
	return DispatchStats{
		Received:   s.received.Load(),
		Ignored:    s.ignored.Load(),
		Duplicates: s.duplicates.Load(),
		SendErrors: s.sendErrors.Load(),
	}
}

// PoolStats returns the worker pool snapshot
func (s *BotService) PoolStats() workers.PoolStats {
	return s.pool.Stats()
}
