package interfaces

import "context"

// InboundMessage is the platform-neutral message produced once at the webhook boundary
type InboundMessage struct {
	UpdateID int
	UserID   int64
	ChatID   int64
	Text     string
	Command  string // lower-case command name without the slash, empty for plain text
	Args     string
}

// Messenger delivers reply text back to a chat
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// UpdateDeduper reports whether an update id is seen for the first time
type UpdateDeduper interface {
	MarkUpdate(ctx context.Context, updateID int) (bool, error)
}
