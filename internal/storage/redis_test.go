package storage

import (
	"context"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RAG-Telebot/server/internal/config"
)

func TestRedisStore_MarkUpdate(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	store, err := NewRedisStore(config.RedisConfig{Addr: addr, DedupTTL: time.Minute})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	id := rand.New(rand.NewSource(time.Now().UnixNano())).Intn(1 << 30)

	fresh, err := store.MarkUpdate(ctx, id)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = store.MarkUpdate(ctx, id)
	require.NoError(t, err)
	assert.False(t, fresh)

	require.NoError(t, store.client.Del(ctx, "tg:update:"+itoa(id)).Err())
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	_, err := NewRedisStore(config.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
