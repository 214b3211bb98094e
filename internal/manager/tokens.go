package manager

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// TokenStore: токен инвалидации кэша материализатора. Растёт после каждой успешной мутации.
type TokenStore interface {
	Current(ctx context.Context) (uint64, error)
	Bump(ctx context.Context) (uint64, error)
}

// MemoryTokens: токен в пределах одного процесса.
type MemoryTokens struct {
	n atomic.Uint64
}

func NewMemoryTokens() *MemoryTokens { return &MemoryTokens{} }

func (t *MemoryTokens) Current(context.Context) (uint64, error) { return t.n.Load(), nil }

func (t *MemoryTokens) Bump(context.Context) (uint64, error) { return t.n.Add(1), nil }

const DefaultTokenKey = "assetforge:definitions:token"

// RedisTokens: общий токен для нескольких процессов (INCR).
type RedisTokens struct {
	client *redis.Client
	key    string
}

func NewRedisTokens(client *redis.Client, key string) *RedisTokens {
	if key == "" {
		key = DefaultTokenKey
	}
	return &RedisTokens{client: client, key: key}
}

func (t *RedisTokens) Current(ctx context.Context) (uint64, error) {
	n, err := t.client.Get(ctx, t.key).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read invalidation token: %w", err)
	}
	return n, nil
}

func (t *RedisTokens) Bump(ctx context.Context) (uint64, error) {
	n, err := t.client.Incr(ctx, t.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to bump invalidation token: %w", err)
	}
	return uint64(n), nil
}
