package csrf

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore keeps tokens in a process-local TTL cache
type MemoryStore struct {
	cache *ttlcache.Cache[string, struct{}]
}

// NewMemoryStore creates a store and starts its expiry loop. Call Stop when done.
func NewMemoryStore() *MemoryStore {
	cache := ttlcache.New[string, struct{}](
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go cache.Start()
	return &MemoryStore{cache: cache}
}

func (s *MemoryStore) SaveToken(_ context.Context, token string, expiresIn time.Duration) error {
	s.cache.Set(token, struct{}{}, expiresIn)
	return nil
}

func (s *MemoryStore) ConsumeToken(_ context.Context, token string) error {
	item, found := s.cache.GetAndDelete(token)
	if !found || item.IsExpired() {
		return ErrInvalidToken
	}
	return nil
}

func (s *MemoryStore) CheckHealth(context.Context) error {
	return nil
}

// Stop ends the expiry loop
func (s *MemoryStore) Stop() {
	s.cache.Stop()
}
