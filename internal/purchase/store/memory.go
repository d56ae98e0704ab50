package store

import (
	"context"
	"fmt"
	"sync"

	"eventtix/internal/models"
	"eventtix/internal/purchase"
)

// MemoryStore is an AttemptStore for single-process deployments and tests.
// Nothing expires.
type MemoryStore struct {
	mu       sync.RWMutex
	attempts map[string]models.PurchaseAttempt
	keys     map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts: make(map[string]models.PurchaseAttempt),
		keys:     make(map[string]string),
	}
}

func (s *MemoryStore) Save(ctx context.Context, attempt models.PurchaseAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.ID] = attempt
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, attemptID string) (*models.PurchaseAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", purchase.ErrAttemptNotFound, attemptID)
	}
	return &attempt, nil
}

func (s *MemoryStore) ClaimIdempotencyKey(ctx context.Context, userID, key, attemptID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := userID + ":" + key
	if existing, ok := s.keys[k]; ok {
		return existing, false, nil
	}
	s.keys[k] = attemptID
	return attemptID, true, nil
}

func (s *MemoryStore) ReleaseIdempotencyKey(ctx context.Context, userID, key, attemptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := userID + ":" + key
	if s.keys[k] == attemptID {
		delete(s.keys, k)
	}
	return nil
}
