package baseline

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no profile exists for a user.
var ErrNotFound = errors.New("baseline: profile not found")

// Store persists user profiles.
type Store interface {
	// Get returns the profile for a user, or ErrNotFound.
	Get(ctx context.Context, userID string) (*UserBaseline, error)
	// Save upserts a profile.
	Save(ctx context.Context, b *UserBaseline) error
	// Delete removes a profile. Deleting a missing profile is not an error.
	Delete(ctx context.Context, userID string) error
	// Count returns the number of stored profiles.
	Count(ctx context.Context) (int, error)
}

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*UserBaseline
}

// Compile-time check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*UserBaseline)}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*UserBaseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	cp.Features = make(map[Feature]FeatureStats, len(b.Features))
	for f, st := range b.Features {
		cp.Features[f] = st
	}
	return &cp, nil
}

func (s *MemoryStore) Save(_ context.Context, b *UserBaseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	cp.Features = make(map[Feature]FeatureStats, len(b.Features))
	for f, st := range b.Features {
		cp.Features[f] = st
	}
	s.profiles[b.UserID] = &cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, userID)
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles), nil
}
