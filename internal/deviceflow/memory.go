package deviceflow

import (
	"context"
	"sync"
	"time"

	"github.com/wrale/phantom/internal/validation"
)

// MemoryStore keeps records in process memory. It is meant for development
// and tests; records are lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*DeviceAuthorization // device code -> record
	users   map[string]string               // normalized user code -> device code
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*DeviceAuthorization),
		users:   make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, auth *DeviceAuthorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[auth.DeviceCode]; ok {
		return ErrDeviceCodeTaken
	}

	userKey := validation.NormalizeCode(auth.UserCode)
	if deviceCode, ok := s.users[userKey]; ok {
		// A user code may be reused once its previous holder has expired
		if existing, ok := s.records[deviceCode]; ok && existing.ExpiresAt.After(auth.CreatedAt) {
			return ErrUserCodeTaken
		}
	}

	stored := *auth
	stored.Version = 1
	s.records[auth.DeviceCode] = &stored
	s.users[userKey] = auth.DeviceCode
	auth.Version = stored.Version
	return nil
}

func (s *MemoryStore) Get(_ context.Context, deviceCode string) (*DeviceAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth, ok := s.records[deviceCode]
	if !ok {
		return nil, ErrRecordNotFound
	}
	out := *auth
	return &out, nil
}

func (s *MemoryStore) GetByUserCode(ctx context.Context, userCode string) (*DeviceAuthorization, error) {
	s.mu.Lock()
	deviceCode, ok := s.users[validation.NormalizeCode(userCode)]
	s.mu.Unlock()
	if !ok {
		return nil, ErrRecordNotFound
	}
	return s.Get(ctx, deviceCode)
}

func (s *MemoryStore) Update(_ context.Context, deviceCode string, fn func(*DeviceAuthorization) error) (*DeviceAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[deviceCode]
	if !ok {
		return nil, ErrRecordNotFound
	}

	next := *current
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.Version = current.Version + 1
	s.records[deviceCode] = &next

	out := next
	return &out, nil
}

func (s *MemoryStore) Consume(_ context.Context, deviceCode string) (*DeviceAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth, ok := s.records[deviceCode]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if auth.Status != StatusApproved {
		return nil, ErrNotApproved
	}

	s.remove(auth)
	return auth, nil
}

func (s *MemoryStore) PurgeExpired(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, auth := range s.records {
		if !auth.ExpiresAt.After(before) {
			s.remove(auth)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CheckHealth(context.Context) error {
	return nil
}

// remove drops a record and its user code index entry. Callers hold mu.
func (s *MemoryStore) remove(auth *DeviceAuthorization) {
	delete(s.records, auth.DeviceCode)
	userKey := validation.NormalizeCode(auth.UserCode)
	if s.users[userKey] == auth.DeviceCode {
		delete(s.users, userKey)
	}
}
