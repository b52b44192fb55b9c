// Package deviceflow implements device authorization storage with Redis
package deviceflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wrale/phantom/internal/validation"
)

const (
	devicePrefix = "device:"
	userPrefix   = "user:"

	// maxTxRetries bounds optimistic transaction retries under contention
	maxTxRetries = 10
)

// RedisStore implements the Store interface using Redis.
// Records expire through key TTLs, so PurgeExpired has nothing to do.
type RedisStore struct {
	client *redis.Client
	retain time.Duration
}

// NewRedisStore creates a new Redis-backed store. Records stay readable
// for retain after they expire.
func NewRedisStore(client *redis.Client, retain time.Duration) *RedisStore {
	return &RedisStore{client: client, retain: retain}
}

// CheckHealth verifies Redis connectivity
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Create stores a new record. The user code key lives until the record
// expires, the record itself until the retention window ends.
func (s *RedisStore) Create(ctx context.Context, auth *DeviceAuthorization) error {
	ttl := auth.ExpiresAt.Sub(auth.CreatedAt)
	if ttl <= 0 {
		return errors.New("code has already expired")
	}

	stored := *auth
	stored.Version = 1
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshaling device authorization: %w", err)
	}

	userKey := userPrefix + validation.NormalizeCode(auth.UserCode)
	ok, err := s.client.SetNX(ctx, userKey, auth.DeviceCode, ttl).Result()
	if err != nil {
		return fmt.Errorf("reserving user code: %w", err)
	}
	if !ok {
		return ErrUserCodeTaken
	}

	ok, err = s.client.SetNX(ctx, devicePrefix+auth.DeviceCode, data, ttl+s.retain).Result()
	if err != nil || !ok {
		// Release the reservation so the code can be handed out again
		if delErr := s.client.Del(ctx, userKey).Err(); delErr != nil && err == nil {
			err = delErr
		}
		if err != nil {
			return fmt.Errorf("saving device authorization: %w", err)
		}
		return ErrDeviceCodeTaken
	}

	auth.Version = stored.Version
	return nil
}

// Get retrieves a record by device code
func (s *RedisStore) Get(ctx context.Context, deviceCode string) (*DeviceAuthorization, error) {
	return getRecord(ctx, s.client, devicePrefix+deviceCode)
}

// GetByUserCode retrieves a record through the user code reference
func (s *RedisStore) GetByUserCode(ctx context.Context, userCode string) (*DeviceAuthorization, error) {
	deviceCode, err := s.client.Get(ctx, userPrefix+validation.NormalizeCode(userCode)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("getting user code reference: %w", err)
	}

	return s.Get(ctx, deviceCode)
}

// Update applies fn inside a WATCH/MULTI transaction on the record key
func (s *RedisStore) Update(ctx context.Context, deviceCode string, fn func(*DeviceAuthorization) error) (*DeviceAuthorization, error) {
	key := devicePrefix + deviceCode

	var result *DeviceAuthorization
	txf := func(tx *redis.Tx) error {
		auth, err := getRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := fn(auth); err != nil {
			return err
		}
		auth.Version++

		data, err := json.Marshal(auth)
		if err != nil {
			return fmt.Errorf("marshaling device authorization: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		if err != nil {
			return err
		}
		result = auth
		return nil
	}

	if err := s.watch(ctx, txf, key); err != nil {
		return nil, err
	}
	return result, nil
}

// Consume deletes the record and its user code reference if it is approved
func (s *RedisStore) Consume(ctx context.Context, deviceCode string) (*DeviceAuthorization, error) {
	key := devicePrefix + deviceCode

	var result *DeviceAuthorization
	txf := func(tx *redis.Tx) error {
		auth, err := getRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if auth.Status != StatusApproved {
			return ErrNotApproved
		}

		userKey := userPrefix + validation.NormalizeCode(auth.UserCode)
		owner, err := tx.Get(ctx, userKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("getting user code reference: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if owner == deviceCode {
				pipe.Del(ctx, userKey)
			}
			return nil
		})
		if err != nil {
			return err
		}
		result = auth
		return nil
	}

	if err := s.watch(ctx, txf, key); err != nil {
		return nil, err
	}
	return result, nil
}

// PurgeExpired is a no-op; Redis evicts records when their TTL runs out
func (s *RedisStore) PurgeExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

// watch runs txf optimistically, retrying when a watched key changed underneath it
func (s *RedisStore) watch(ctx context.Context, txf func(*redis.Tx) error, key string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("updating %s: too many concurrent writers", key)
}

// stringGetter is satisfied by both *redis.Client and *redis.Tx
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// getRecord loads and decodes a record with either the client or a transaction
func getRecord(ctx context.Context, c stringGetter, key string) (*DeviceAuthorization, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("getting device authorization: %w", err)
	}

	var auth DeviceAuthorization
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, fmt.Errorf("unmarshaling device authorization: %w", err)
	}
	return &auth, nil
}
