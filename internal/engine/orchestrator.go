package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"RAG-Telebot/server/internal/config"
	"RAG-Telebot/server/internal/interfaces"
	"RAG-Telebot/server/internal/logging"
	"RAG-Telebot/server/internal/observability"
	"RAG-Telebot/server/internal/prompts"
)

// Recognized commands, as produced by the inbound parser
const (
	CommandStart    = "start"
	CommandHelp     = "help"
	CommandRemember = "remember"
	CommandClear    = "clear"
	CommandReset    = "reset"
	CommandSearch   = "search"
)

// Policy holds the knobs that shape replies
type Policy struct {
	TopK         int
	MinScore     float64
	Temperature  float64
	MaxTokens    int
	AdminID      int64 // 0 means nobody may add knowledge
	AutoRemember bool
	Replies      config.RepliesConfig
}

// PolicyFromConfig extracts the orchestrator policy from the configuration
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		TopK:         cfg.Knowledge.TopK,
		MinScore:     cfg.Knowledge.MinScore,
		Temperature:  cfg.AI.Chat.Temperature,
		MaxTokens:    cfg.AI.Chat.MaxTokens,
		AdminID:      cfg.Telegram.AdminID,
		AutoRemember: cfg.Knowledge.AutoRemember,
		Replies:      cfg.Replies,
	}
}

// Reply is the orchestrator's answer to one inbound message
type Reply struct {
	Text    string
	Outcome string
}

// Orchestrator turns an inbound message into a reply: command handling,
// retrieval, prompt assembly, generation with fallback, and history recording.
type Orchestrator struct {
	knowledge interfaces.KnowledgeStore
	contexts  interfaces.ContextRepository
	chat      interfaces.ChatModel
	prompts   *prompts.PromptBuilder
	policy    Policy
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewOrchestrator wires the pipeline. metrics may be nil.
func NewOrchestrator(
	knowledge interfaces.KnowledgeStore,
	contexts interfaces.ContextRepository,
	chat interfaces.ChatModel,
	promptBuilder *prompts.PromptBuilder,
	policy Policy,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		knowledge: knowledge,
		contexts:  contexts,
		chat:      chat,
		prompts:   promptBuilder,
		policy:    policy,
		metrics:   metrics,
		logger:    logging.Component(logger, "Orchestrator"),
	}
}

// Handle processes one message. It never fails; every upstream error maps to a reply.
// An empty Reply.Text means there is nothing to send.
func (o *Orchestrator) Handle(ctx context.Context, msg interfaces.InboundMessage) Reply {
	var reply Reply
	switch msg.Command {
	case CommandStart:
		reply = Reply{Text: o.policy.Replies.Welcome, Outcome: observability.OutcomeCommand}
	case CommandHelp:
		reply = Reply{Text: o.policy.Replies.Help, Outcome: observability.OutcomeCommand}
	case CommandRemember:
		reply = o.remember(ctx, msg)
	case CommandClear, CommandReset:
		o.contexts.Clear(msg.UserID)
		reply = Reply{Text: o.policy.Replies.Cleared, Outcome: observability.OutcomeCommand}
	case CommandSearch:
		reply = o.search(ctx, msg)
	default:
		reply = o.generate(ctx, msg)
	}

	if reply.Outcome != "" {
		o.metrics.ObserveMessage(reply.Outcome)
	}
	return reply
}

// remember inserts admin-provided knowledge
func (o *Orchestrator) remember(ctx context.Context, msg interfaces.InboundMessage) Reply {
	if o.policy.AdminID == 0 || msg.UserID != o.policy.AdminID {
		o.logger.Info("remember refused", "user_id", msg.UserID)
		return Reply{Text: o.policy.Replies.Refusal, Outcome: observability.OutcomeRefused}
	}

	text := strings.TrimSpace(msg.Args)
	if text == "" {
		return Reply{Text: o.policy.Replies.RememberUsage, Outcome: observability.OutcomeCommand}
	}

	id, err := o.knowledge.Insert(ctx, text, fmt.Sprintf("admin_%d", msg.UserID))
	o.metrics.ObserveInsert(err)
	if err != nil {
		o.logger.Warn("remember failed", "user_id", msg.UserID, "preview", logging.Preview(text), "error", err)
		return Reply{Text: o.policy.Replies.RememberFailed, Outcome: observability.OutcomeCommand}
	}

	o.logger.Info("knowledge added", "id", id, "user_id", msg.UserID)
	return Reply{Text: o.policy.Replies.Remembered, Outcome: observability.OutcomeCommand}
}

// search returns raw retrieved texts without calling the chat API
func (o *Orchestrator) search(ctx context.Context, msg interfaces.InboundMessage) Reply {
	query := strings.TrimSpace(msg.Args)
	if query == "" {
		return Reply{Text: o.policy.Replies.SearchUsage, Outcome: observability.OutcomeCommand}
	}

	texts := o.knowledge.Search(ctx, query, o.policy.TopK, o.policy.MinScore)
	if len(texts) == 0 {
		return Reply{Text: o.policy.Replies.NothingFound, Outcome: observability.OutcomeCommand}
	}
	return Reply{Text: o.prompts.SearchResults(texts), Outcome: observability.OutcomeCommand}
}

// generate runs retrieve, assemble, generate, fallback, record
func (o *Orchestrator) generate(ctx context.Context, msg interfaces.InboundMessage) Reply {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return Reply{}
	}

	knowledge := o.knowledge.Search(ctx, text, o.policy.TopK, o.policy.MinScore)
	history := o.contexts.Get(msg.UserID)
	messages := o.prompts.Build(knowledge, history, text)

	start := time.Now()
	answer, err := o.chat.Complete(ctx, interfaces.ChatRequest{
		Messages:    messages,
		Temperature: o.policy.Temperature,
		MaxTokens:   o.policy.MaxTokens,
	})
	o.metrics.ObserveChat(time.Since(start), err)

	outcome := observability.OutcomeReply
	if err != nil {
		o.logger.Warn("chat completion failed, sending fallback",
			"user_id", msg.UserID,
			"preview", logging.Preview(text),
			"error", err,
		)
		answer = o.policy.Replies.Fallback
		outcome = observability.OutcomeFallback
	}

	if o.policy.AutoRemember {
		_, err := o.knowledge.Insert(ctx, text, "user")
		o.metrics.ObserveInsert(err)
		if err != nil {
			o.logger.Debug("auto-remember skipped", "user_id", msg.UserID, "error", err)
		}
	}

	// the fallback text is recorded as the assistant turn
	o.contexts.Append(msg.UserID, interfaces.RoleUser, text)
	o.contexts.Append(msg.UserID, interfaces.RoleAssistant, answer)

	o.logger.Debug("reply generated",
		"user_id", msg.UserID,
		"knowledge", len(knowledge),
		"history", len(history),
		"outcome", outcome,
	)
	return Reply{Text: answer, Outcome: outcome}
}
