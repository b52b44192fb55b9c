package session

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore keeps sessions in a process-local TTL cache
type MemoryStore struct {
	cache *ttlcache.Cache[string, Session]
}

// NewMemoryStore creates a store and starts its expiry loop. Call Stop when done.
func NewMemoryStore() *MemoryStore {
	cache := ttlcache.New[string, Session](
		ttlcache.WithDisableTouchOnHit[string, Session](),
	)
	go cache.Start()
	return &MemoryStore{cache: cache}
}

func (s *MemoryStore) Save(_ context.Context, sess *Session) error {
	s.cache.Set(sess.ID, *sess, time.Until(sess.ExpiresAt))
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*Session, error) {
	item := s.cache.Get(id)
	if item == nil {
		return nil, ErrNotFound
	}
	sess := item.Value()
	return &sess, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.cache.Delete(id)
	return nil
}

func (s *MemoryStore) CheckHealth(context.Context) error {
	return nil
}

// Stop ends the expiry loop
func (s *MemoryStore) Stop() {
	s.cache.Stop()
}
