package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf16"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RAG-Telebot/server/internal/config"
)

type sentMessage struct {
	ChatID    string
	Text      string
	ParseMode string
}

// fakeBotAPI answers the Bot API methods the gateway uses
type fakeBotAPI struct {
	mu             sync.Mutex
	sent           []sentMessage
	attempts       int
	rejectMarkdown bool
	failAll        bool
	webhook        string
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Rag","username":"rag_test_bot"}}`)
	case strings.HasSuffix(r.URL.Path, "/setWebhook"):
		f.webhook = r.Form.Get("url")
		fmt.Fprint(w, `{"ok":true,"result":true,"description":"Webhook was set"}`)
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		f.attempts++
		mode := r.Form.Get("parse_mode")
		if f.failAll || (f.rejectMarkdown && mode != "") {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`)
			return
		}
		f.sent = append(f.sent, sentMessage{ChatID: r.Form.Get("chat_id"), Text: r.Form.Get("text"), ParseMode: mode})
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":0,"chat":{"id":5,"type":"private"}}}`, len(f.sent))
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
	}
}

func (f *fakeBotAPI) snapshot() (sent []sentMessage, attempts int, webhook string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...), f.attempts, f.webhook
}

func newTestGateway(t *testing.T, api *fakeBotAPI) *TelegramGateway {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	g, err := NewTelegramGateway(config.TelegramConfig{Token: "123:abc"}, nil,
		WithAPIEndpoint(srv.URL+"/bot%s/%s"),
		WithGatewayHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return g
}

func TestNewTelegramGateway(t *testing.T) {
	g := newTestGateway(t, &fakeBotAPI{})
	assert.Equal(t, "rag_test_bot", g.Username())
	assert.True(t, g.Stats().Connected)

	_, err := NewTelegramGateway(config.TelegramConfig{}, nil)
	assert.Error(t, err)
}

func TestTelegramGateway_Send(t *testing.T) {
	api := &fakeBotAPI{}
	g := newTestGateway(t, api)

	require.NoError(t, g.Send(context.Background(), 5, "*hello*"))

	sent, _, _ := api.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, sentMessage{ChatID: "5", Text: "*hello*", ParseMode: tgbotapi.ModeMarkdown}, sent[0])
	assert.EqualValues(t, 1, g.Stats().Sent)
}

func TestTelegramGateway_SendFallsBackToPlainText(t *testing.T) {
	api := &fakeBotAPI{rejectMarkdown: true}
	g := newTestGateway(t, api)

	require.NoError(t, g.Send(context.Background(), 5, "broken *markdown"))

	sent, attempts, _ := api.snapshot()
	require.Len(t, sent, 1)
	assert.Empty(t, sent[0].ParseMode)
	assert.Equal(t, 2, attempts)
}

func TestTelegramGateway_SendFailure(t *testing.T) {
	api := &fakeBotAPI{failAll: true}
	g := newTestGateway(t, api)

	err := g.Send(context.Background(), 5, "hi")
	assert.Error(t, err)
	assert.EqualValues(t, 1, g.Stats().Failed)
	assert.False(t, g.Stats().Connected)
}

func TestTelegramGateway_ConnectedRecoversAfterSuccess(t *testing.T) {
	api := &fakeBotAPI{}
	g := newTestGateway(t, api)

	api.mu.Lock()
	api.failAll = true
	api.mu.Unlock()
	require.Error(t, g.Send(context.Background(), 5, "hi"))
	assert.False(t, g.Stats().Connected)

	api.mu.Lock()
	api.failAll = false
	api.mu.Unlock()
	require.NoError(t, g.Send(context.Background(), 5, "hi again"))

	stats := g.Stats()
	assert.True(t, stats.Connected)
	assert.EqualValues(t, 1, stats.Sent)
	assert.EqualValues(t, 1, stats.Failed)
	assert.Equal(t, "rag_test_bot", stats.Username)
}

func TestTelegramGateway_SendSkipsEmpty(t *testing.T) {
	api := &fakeBotAPI{}
	g := newTestGateway(t, api)

	require.NoError(t, g.Send(context.Background(), 5, "  "))
	_, attempts, _ := api.snapshot()
	assert.Zero(t, attempts)
}

func TestTelegramGateway_SendSplitsLongText(t *testing.T) {
	api := &fakeBotAPI{}
	g := newTestGateway(t, api)

	long := strings.Repeat("a", MaxMessageLength+10)
	require.NoError(t, g.Send(context.Background(), 5, long))

	sent, _, _ := api.snapshot()
	require.Len(t, sent, 2)
	assert.Len(t, sent[0].Text, MaxMessageLength)
	assert.Len(t, sent[1].Text, 10)
}

func TestTelegramGateway_RegisterWebhook(t *testing.T) {
	api := &fakeBotAPI{}
	g := newTestGateway(t, api)

	link := "https://bot.example.com/webhook/123:abc"
	require.NoError(t, g.RegisterWebhook(context.Background(), link))
	_, _, webhook := api.snapshot()
	assert.Equal(t, link, webhook)
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, SplitMessage("short", 10))

	chunks := SplitMessage("line one\nline two\nline three", 12)
	assert.Equal(t, []string{"line one\n", "line two\n", "line three"}, chunks)

	// multi-byte text is split on characters, not bytes
	text := strings.Repeat("日本語", 5)
	chunks = SplitMessage(text, 4)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 4)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))

	// emoji outside the BMP take two UTF-16 units each
	emoji := strings.Repeat("😀", 3000)
	chunks = SplitMessage(emoji, MaxMessageLength)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(utf16.Encode([]rune(c))), MaxMessageLength)
	}
	assert.Equal(t, MaxMessageLength/2, utf8.RuneCountInString(chunks[0]))
	assert.Equal(t, emoji, strings.Join(chunks, ""))
}

func TestInboundFromUpdate(t *testing.T) {
	parser := NewCommandParser()

	update := tgbotapi.Update{
		UpdateID: 10,
		Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: 42},
			Chat: &tgbotapi.Chat{ID: 99},
			Text: "/remember@rag_test_bot Paris is in France",
		},
	}
	msg, ok := InboundFromUpdate(update, parser)
	require.True(t, ok)
	assert.Equal(t, 10, msg.UpdateID)
	assert.EqualValues(t, 42, msg.UserID)
	assert.EqualValues(t, 99, msg.ChatID)
	assert.Equal(t, "remember", msg.Command)
	assert.Equal(t, "Paris is in France", msg.Args)

	ignored := []tgbotapi.Update{
		{UpdateID: 1},
		{UpdateID: 2, Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: "no sender"}},
		{UpdateID: 3, Message: &tgbotapi.Message{From: &tgbotapi.User{ID: 1}, Chat: &tgbotapi.Chat{ID: 1}}},
	}
	for _, u := range ignored {
		_, ok := InboundFromUpdate(u, parser)
		assert.False(t, ok, "update %d", u.UpdateID)
	}
}
