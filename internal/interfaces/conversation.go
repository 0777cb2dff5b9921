package interfaces

// Role of a conversation turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is a single message in a user's recent history
type ConversationTurn struct {
	Role    Role
	Content string
}

// ContextRepository holds the bounded per-user conversation history
type ContextRepository interface {
	// Append adds a turn, evicting the oldest turns beyond the cap
	Append(userID int64, role Role, content string)

	// Get returns a copy of the user's turns, oldest first
	Get(userID int64) []ConversationTurn

	// Clear removes all turns for the user
	Clear(userID int64)
}
