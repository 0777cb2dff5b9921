package engine

import (
	"sync"

	"RAG-Telebot/server/internal/interfaces"
)

const defaultMaxTurns = 10

var _ interfaces.ContextRepository = (*ContextStore)(nil)

// ContextStore keeps the recent conversation of each user in process memory.
// Each user has its own lock; different users never contend.
type ContextStore struct {
	mu       sync.RWMutex
	users    map[int64]*userContext
	maxTurns int
}

type userContext struct {
	mu    sync.Mutex
	turns []interfaces.ConversationTurn
}

// NewContextStore creates a store keeping at most maxTurns turns per user
func NewContextStore(maxTurns int) *ContextStore {
	if maxTurns < 1 {
		maxTurns = defaultMaxTurns
	}
	return &ContextStore{
		users:    make(map[int64]*userContext),
		maxTurns: maxTurns,
	}
}

func (s *ContextStore) entry(userID int64, create bool) *userContext {
	s.mu.RLock()
	uc, ok := s.users[userID]
	s.mu.RUnlock()
	if ok || !create {
		return uc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if uc, ok = s.users[userID]; !ok {
		uc = &userContext{}
		s.users[userID] = uc
	}
	return uc
}

// Append adds a turn and evicts the oldest ones beyond the cap
func (s *ContextStore) Append(userID int64, role interfaces.Role, content string) {
	uc := s.entry(userID, true)

	uc.mu.Lock()
	defer uc.mu.Unlock()

	uc.turns = append(uc.turns, interfaces.ConversationTurn{Role: role, Content: content})
	if over := len(uc.turns) - s.maxTurns; over > 0 {
		kept := make([]interfaces.ConversationTurn, s.maxTurns)
		copy(kept, uc.turns[over:])
		uc.turns = kept
	}
}

// Get returns a copy of the user's turns, oldest first
func (s *ContextStore) Get(userID int64) []interfaces.ConversationTurn {
	uc := s.entry(userID, false)
	if uc == nil {
		return []interfaces.ConversationTurn{}
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	out := make([]interfaces.ConversationTurn, len(uc.turns))
	copy(out, uc.turns)
	return out
}

// Clear drops all turns of the user
func (s *ContextStore) Clear(userID int64) {
	uc := s.entry(userID, false)
	if uc == nil {
		return
	}

	uc.mu.Lock()
	uc.turns = nil
	uc.mu.Unlock()
}

// Users returns the number of users with a context entry
func (s *ContextStore) Users() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// MaxTurns returns the per-user cap
func (s *ContextStore) MaxTurns() int {
	return s.maxTurns
}
