package csrf

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenKey is where an issued, unused token lives until it expires
func tokenKey(token string) string {
	return "phantom:csrf:" + token
}

// RedisStore shares issued tokens between server replicas. A token is a
// single key: saving it arms the TTL and the first ConsumeToken deletes it,
// so a replayed form finds nothing.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) SaveToken(ctx context.Context, token string, expiresIn time.Duration) error {
	if token == "" || expiresIn <= 0 {
		return fmt.Errorf("saving csrf token: %w", ErrInvalidToken)
	}
	if err := s.client.Set(ctx, tokenKey(token), 1, expiresIn).Err(); err != nil {
		return fmt.Errorf("saving csrf token: %w", err)
	}
	return nil
}

// ConsumeToken succeeds for exactly one caller per token. Redis drops
// expired keys itself, so an expired token simply has no key to delete.
func (s *RedisStore) ConsumeToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	deleted, err := s.client.Del(ctx, tokenKey(token)).Result()
	switch {
	case err != nil:
		return fmt.Errorf("consuming csrf token: %w", err)
	case deleted == 0:
		return ErrInvalidToken
	}
	return nil
}

func (s *RedisStore) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("csrf store unreachable: %w", err)
	}
	return nil
}
