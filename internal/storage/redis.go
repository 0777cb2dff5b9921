package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"RAG-Telebot/server/internal/config"
	"RAG-Telebot/server/internal/interfaces"
)

const (
	updateDedupKey      = "tg:update"
	defaultUpdateTTL    = 10 * time.Minute
	redisConnectTimeout = 5 * time.Second
)

var _ interfaces.UpdateDeduper = (*RedisStore)(nil)

type RedisStore struct {
	client   *redis.Client
	dedupTTL time.Duration
}

func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	ttl := cfg.DedupTTL
	if ttl <= 0 {
		ttl = defaultUpdateTTL
	}
	return &RedisStore{client: client, dedupTTL: ttl}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MarkUpdate records an update id and reports whether it was new.
// Telegram redelivers updates it did not see acknowledged in time.
func (s *RedisStore) MarkUpdate(ctx context.Context, updateID int) (bool, error) {
	key := fmt.Sprintf("%s:%d", updateDedupKey, updateID)
	fresh, err := s.client.SetNX(ctx, key, "1", s.dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set dedup key: %w", err)
	}
	return fresh, nil
}
