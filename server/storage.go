package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryUserStore keeps users in process memory, for development and tests.
// Insertion order is tracked so identity lookups stay deterministic.
type InMemoryUserStore struct {
	mu    sync.RWMutex
	users map[uuid.UUID]User
	order []uuid.UUID
}

// NewInMemoryUserStore constructs an empty store.
func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{users: make(map[uuid.UUID]User)}
}

// FindByIdentity returns the oldest user matching either identity key.
func (s *InMemoryUserStore) FindByIdentity(ctx context.Context, mitidUUID, cpr string) (User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		u := s.users[id]
		if (mitidUUID != "" && u.MitIDUUID == mitidUUID) || (cpr != "" && u.CPR == cpr) {
			return u, true, nil
		}
	}
	return User{}, false, nil
}

// Create stores a new user and assigns its identifiers and timestamps.
func (s *InMemoryUserStore) Create(ctx context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.ID = uuid.New()
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = u
	s.order = append(s.order, u.ID)
	return u, nil
}

// Update replaces the stored record, preserving creation metadata.
func (s *InMemoryUserStore) Update(ctx context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[u.ID]
	if !ok {
		return User{}, fmt.Errorf("user %s not found", u.ID)
	}
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now()
	s.users[u.ID] = u
	return u, nil
}

// Len reports the number of stored users.
func (s *InMemoryUserStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
