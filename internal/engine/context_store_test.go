package engine

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RAG-Telebot/server/internal/interfaces"
)

func TestContextStore_UnseenUserIsEmpty(t *testing.T) {
	s := NewContextStore(3)
	got := s.Get(99)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, 0, s.Users(), "Get does not create entries")
}

func TestContextStore_FIFOCap(t *testing.T) {
	for _, capTurns := range []int{1, 3, 10} {
		t.Run(fmt.Sprintf("cap=%d", capTurns), func(t *testing.T) {
			s := NewContextStore(capTurns)
			total := capTurns*2 + 1
			for i := 0; i < total; i++ {
				s.Append(1, interfaces.RoleUser, fmt.Sprintf("m%d", i))
			}

			got := s.Get(1)
			require.Len(t, got, capTurns)
			for i, turn := range got {
				assert.Equal(t, fmt.Sprintf("m%d", total-capTurns+i), turn.Content)
			}
		})
	}
}

func TestContextStore_GetReturnsCopy(t *testing.T) {
	s := NewContextStore(5)
	s.Append(1, interfaces.RoleUser, "hello")

	got := s.Get(1)
	got[0].Content = "mutated"

	assert.Equal(t, "hello", s.Get(1)[0].Content)
}

func TestContextStore_ClearIsIdempotent(t *testing.T) {
	s := NewContextStore(5)
	s.Clear(1)
	assert.Empty(t, s.Get(1))

	s.Append(1, interfaces.RoleUser, "a")
	s.Append(1, interfaces.RoleAssistant, "b")
	s.Append(2, interfaces.RoleUser, "other user")

	s.Clear(1)
	assert.Empty(t, s.Get(1))
	s.Clear(1)
	assert.Empty(t, s.Get(1))

	assert.Len(t, s.Get(2), 1, "other users are untouched")

	s.Append(1, interfaces.RoleUser, "after clear")
	assert.Len(t, s.Get(1), 1)
}

func TestContextStore_ConcurrentAppendsLoseNothing(t *testing.T) {
	const goroutines, perGoroutine = 10, 50
	s := NewContextStore(goroutines * perGoroutine)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				s.Append(7, interfaces.RoleUser, fmt.Sprintf("g%d-%d", g, i))
				_ = s.Get(7)
			}
		}(g)
	}
	wg.Wait()

	got := s.Get(7)
	require.Len(t, got, goroutines*perGoroutine)

	seen := make(map[string]bool, len(got))
	for _, turn := range got {
		seen[turn.Content] = true
	}
	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestContextStore_ConcurrentUsersWithCap(t *testing.T) {
	s := NewContextStore(4)

	var wg sync.WaitGroup
	for u := int64(1); u <= 20; u++ {
		wg.Add(1)
		go func(u int64) {
			defer wg.Done()
			for i := 0; i < 30; i++ {
				s.Append(u, interfaces.RoleUser, fmt.Sprintf("%d", i))
			}
		}(u)
	}
	wg.Wait()

	assert.Equal(t, 20, s.Users())
	for u := int64(1); u <= 20; u++ {
		got := s.Get(u)
		require.Len(t, got, 4)
		assert.Equal(t, "29", got[3].Content)
	}
}

func TestNewContextStore_DefaultCap(t *testing.T) {
	assert.Equal(t, defaultMaxTurns, NewContextStore(0).MaxTurns())
}
