package adapters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/atomic"

	"RAG-Telebot/server/internal/config"
	"RAG-Telebot/server/internal/interfaces"
	"RAG-Telebot/server/internal/logging"
)

const (
	// MaxMessageLength is Telegram's limit on a single text message, in UTF-16 code units
	MaxMessageLength = 4096

	defaultTelegramTimeout = 15 * time.Second
)

var _ interfaces.Messenger = (*TelegramGateway)(nil)

// TelegramGateway delivers replies through the Telegram Bot API
type TelegramGateway struct {
	bot       *tgbotapi.BotAPI
	parseMode string
	logger    *slog.Logger
	connected atomic.Bool
	sent      atomic.Int64
	failed    atomic.Int64
}

// GatewayStats is a snapshot of delivery counters
type GatewayStats struct {
	Username  string `json:"username"`
	Connected bool   `json:"connected"`
	Sent      int64  `json:"sent"`
	Failed    int64  `json:"failed"`
}

type gatewayOptions struct {
	endpoint  string
	client    *http.Client
	parseMode string
}

// GatewayOption configures a TelegramGateway
type GatewayOption func(*gatewayOptions)

// WithAPIEndpoint overrides the Bot API endpoint format (two %s: token, method)
func WithAPIEndpoint(endpoint string) GatewayOption {
	return func(o *gatewayOptions) { o.endpoint = endpoint }
}

// WithGatewayHTTPClient sets the HTTP client used for Bot API calls
func WithGatewayHTTPClient(client *http.Client) GatewayOption {
	return func(o *gatewayOptions) { o.client = client }
}

// WithParseMode sets the preferred parse mode; empty sends plain text
func WithParseMode(mode string) GatewayOption {
	return func(o *gatewayOptions) { o.parseMode = mode }
}

// NewTelegramGateway authenticates the bot token with getMe and returns a ready gateway
func NewTelegramGateway(cfg config.TelegramConfig, logger *slog.Logger, opts ...GatewayOption) (*TelegramGateway, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: empty bot token")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTelegramTimeout
	}
	o := gatewayOptions{
		endpoint:  tgbotapi.APIEndpoint,
		client:    &http.Client{Timeout: timeout},
		parseMode: tgbotapi.ModeMarkdown,
	}
	for _, opt := range opts {
		opt(&o)
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, o.endpoint, o.client)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}

	g := &TelegramGateway{
		bot:       bot,
		parseMode: o.parseMode,
		logger:    logging.Component(logger, "Telegram"),
	}
	g.connected.Store(true)
	g.logger.Info("authorized", "username", bot.Self.UserName)
	return g, nil
}

// Send delivers text to a chat, splitting it at the Telegram length limit.
// A chunk rejected with the parse mode is resent as plain text.
func (g *TelegramGateway) Send(ctx context.Context, chatID int64, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	for _, chunk := range SplitMessage(text, MaxMessageLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.sendChunk(chatID, chunk); err != nil {
			g.failed.Inc()
			if g.connected.CompareAndSwap(true, false) {
				g.logger.Warn("telegram marked disconnected", "error", err)
			}
			return err
		}
		g.sent.Inc()
		if g.connected.CompareAndSwap(false, true) {
			g.logger.Info("telegram reachable again")
		}
	}
	return nil
}

func (g *TelegramGateway) sendChunk(chatID int64, chunk string) error {
	msg := tgbotapi.NewMessage(chatID, chunk)
	msg.DisableWebPagePreview = true

	if g.parseMode != "" {
		msg.ParseMode = g.parseMode
		_, err := g.bot.Send(msg)
		if err == nil {
			return nil
		}
		g.logger.Debug("formatted send rejected, retrying as plain text", "chat_id", chatID, "error", err)
		msg.ParseMode = ""
	}

	if _, err := g.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send message to chat %d: %w", chatID, err)
	}
	return nil
}

// RegisterWebhook points Telegram at the given public URL
func (g *TelegramGateway) RegisterWebhook(ctx context.Context, link string) error {
	wh, err := tgbotapi.NewWebhook(link)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if _, err := g.bot.Request(wh); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	g.logger.Info("webhook registered", "url", redactToken(link, g.bot.Token))
	return nil
}

// Username returns the bot's @username without the @
func (g *TelegramGateway) Username() string {
	return g.bot.Self.UserName
}

// Stats returns delivery counters. Connected turns false when a message could
// not be delivered even as plain text and back to true on the next success.
func (g *TelegramGateway) Stats() GatewayStats {
	return GatewayStats{
		Username:  g.bot.Self.UserName,
		Connected: g.connected.Load(),
		Sent:      g.sent.Load(),
		Failed:    g.failed.Load(),
	}
}

// InboundFromUpdate converts a Telegram update into an InboundMessage.
// Updates without a text message from a user are ignored.
func InboundFromUpdate(update tgbotapi.Update, parser *CommandParser) (interfaces.InboundMessage, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return interfaces.InboundMessage{}, false
	}
	if strings.TrimSpace(msg.Text) == "" {
		return interfaces.InboundMessage{}, false
	}

	parsed := parser.Parse(msg.Text)
	return interfaces.InboundMessage{
		UpdateID: update.UpdateID,
		UserID:   msg.From.ID,
		ChatID:   msg.Chat.ID,
		Text:     parsed.RawText,
		Command:  parsed.Command,
		Args:     parsed.Args,
	}, true
}

// SplitMessage cuts text into chunks of at most limit UTF-16 code units,
// preferring to break at a newline in the second half of a chunk.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || utf16Len(text) <= limit {
		return []string{text}
	}

	runes := []rune(text)
	var chunks []string
	for len(runes) > 0 {
		cut, units, afterNewline := 0, 0, 0
		for cut < len(runes) {
			n := runeUnits(runes[cut])
			if units+n > limit {
				break
			}
			units += n
			cut++
			if runes[cut-1] == '\n' && units > limit/2 {
				afterNewline = cut
			}
		}
		if cut == len(runes) {
			chunks = append(chunks, string(runes))
			break
		}
		if afterNewline > 0 {
			cut = afterNewline
		}
		if cut == 0 {
			cut = 1
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}

func runeUnits(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	// invalid runes are sent as U+FFFD
	return 1
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeUnits(r)
	}
	return n
}

func redactToken(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "<token>")
}
