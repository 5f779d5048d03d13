package dynamic

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned by stores when no record matches.
var ErrNotFound = fmt.Errorf("generated capability not found")

// Store is the persistence boundary for generated-capability records. The
// registry never touches storage directly beyond this contract; production
// deployments back it with a durable database, tests and demos use
// InMemoryStore.
type Store interface {
	// Get returns the record addressed by (userID, id) or ErrNotFound.
	Get(ctx context.Context, userID, id string) (*GeneratedCapability, error)

	// Put inserts or replaces a record.
	Put(ctx context.Context, cap *GeneratedCapability) error

	// Delete removes a record; deleting a missing record returns ErrNotFound.
	Delete(ctx context.Context, userID, id string) error

	// List returns all records owned by userID sorted by id.
	List(ctx context.Context, userID string) ([]*GeneratedCapability, error)
}

// InMemoryStore is a process-local Store. Concurrency: protected by RWMutex.
// Suitable for tests and demos; swap for a durable store in production.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]*GeneratedCapability // userID -> id -> record
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]map[string]*GeneratedCapability)}
}

// Get implements Store.
func (s *InMemoryStore) Get(_ context.Context, userID, id string) (*GeneratedCapability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.records[userID]
	if !ok {
		return nil, ErrNotFound
	}
	rec, ok := user[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.clone(), nil
}

// Put implements Store.
func (s *InMemoryStore) Put(_ context.Context, cap *GeneratedCapability) error {
	if cap == nil || cap.ID == "" || cap.UserID == "" {
		return fmt.Errorf("store: record must carry id and user id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[cap.UserID]; !ok {
		s.records[cap.UserID] = make(map[string]*GeneratedCapability)
	}
	s.records[cap.UserID][cap.ID] = cap.clone()
	return nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.records[userID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := user[id]; !ok {
		return ErrNotFound
	}
	delete(user, id)
	return nil
}

// List implements Store.
func (s *InMemoryStore) List(_ context.Context, userID string) ([]*GeneratedCapability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user := s.records[userID]
	out := make([]*GeneratedCapability, 0, len(user))
	for _, rec := range user {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
