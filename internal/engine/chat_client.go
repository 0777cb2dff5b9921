package engine

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"RAG-Telebot/server/internal/apperr"
	"RAG-Telebot/server/internal/config"
	"RAG-Telebot/server/internal/interfaces"
)

const defaultChatTimeout = 30 * time.Second

var _ interfaces.ChatModel = (*ChatClient)(nil)

// ChatClient calls an OpenAI-compatible chat completions endpoint (OpenRouter by default).
// Failed calls are not retried.
type ChatClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
}

// headerTransport adds fixed headers to every request
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}

// NewChatClient creates a chat client. referer is the public deployment URL sent
// as HTTP-Referer; cfg.Title is sent as X-Title.
func NewChatClient(cfg config.ChatConfig, referer string) *ChatClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultChatTimeout
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout: timeout,
		Transport: &headerTransport{
			base: http.DefaultTransport,
			headers: map[string]string{
				"HTTP-Referer": referer,
				"X-Title":      cfg.Title,
			},
		},
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &ChatClient{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: timeout,
		limiter: limiter,
	}
}

// Complete sends the prompt and returns choices[0].message.content
func (c *ChatClient) Complete(ctx context.Context, req interfaces.ChatRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: wireTemperature(req.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", apperr.New("chat.complete", apperr.ErrEmptyCompletion)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", apperr.New("chat.complete", apperr.ErrEmptyCompletion)
	}
	return content, nil
}

// wireTemperature maps 0 to the smallest positive float32; go-openai omits a zero temperature
func wireTemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}
