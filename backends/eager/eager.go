package eager

import (
	"context"
	"sync"
	"time"

	"github.com/RichardKnop/combiner/backends/iface"
	"github.com/RichardKnop/combiner/common"
	"github.com/RichardKnop/combiner/config"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Store keeps task states in process memory. Expired states read as missing.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// New creates an in-memory result backend
func New(cnf *config.Config) iface.Backend {
	return common.NewBackend(cnf, NewStore())
}

// Put stores a copy of value under key
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

// Get returns the value stored under key
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || (!e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)) {
		return nil, iface.ErrStateNotFound
	}
	return e.value, nil
}

// Delete removes key. Deleting a missing key is an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return iface.ErrStateNotFound
	}
	delete(s.entries, key)
	return nil
}
