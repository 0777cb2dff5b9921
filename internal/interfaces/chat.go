package interfaces

import "context"

// ChatMessage is one entry of a chat completion prompt
type ChatMessage struct {
	Role    Role
	Content string
}

// ChatRequest is a chat completion request
type ChatRequest struct {
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
}

// ChatModel generates a reply for an assembled prompt
type ChatModel interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}
