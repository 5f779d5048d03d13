package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one sanitized capability result retained for later recall.
type Record struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	FlowID     string         `json:"flow_id,omitempty"`
	Capability string         `json:"capability"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Writer persists sanitized records. The engine is the only producer; the
// sanitizer has already run by the time Write is called.
type Writer interface {
	Write(ctx context.Context, rec Record) error
}

// Store extends Writer with recall operations.
type Store interface {
	Writer
	List(ctx context.Context, userID string, limit int) ([]Record, error)
	Search(ctx context.Context, userID, query string, limit int) ([]Record, error)
	Delete(ctx context.Context, userID, id string) error
}

// InMemoryStore is a process-local Store. Records are kept per user in
// insertion order; Search is a linear substring scan. Suitable for tests and
// demos; swap for a durable backend in production.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Record // userID -> records in insertion order
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]Record)}
}

// Write appends the record, assigning an id and timestamp when absent.
func (m *InMemoryStore) Write(_ context.Context, rec Record) error {
	if rec.UserID == "" {
		return fmt.Errorf("memory: record user id is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.UserID] = append(m.records[rec.UserID], rec)
	return nil
}

// List returns the user's most recent records, newest first, up to limit.
// limit <= 0 returns everything.
func (m *InMemoryStore) List(_ context.Context, userID string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.records[userID]
	out := make([]Record, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, recs[i])
	}
	return out, nil
}

// Search returns records whose content contains query (case insensitive),
// newest first, up to limit. An empty query matches everything.
func (m *InMemoryStore) Search(_ context.Context, userID, query string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q := strings.ToLower(query)
	recs := m.records[userID]
	out := make([]Record, 0, limit)
	for i := len(recs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if q == "" || strings.Contains(strings.ToLower(recs[i].Content), q) {
			out = append(out, recs[i])
		}
	}
	return out, nil
}

// Delete removes one record by id.
func (m *InMemoryStore) Delete(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.records[userID]
	for i, rec := range recs {
		if rec.ID == id {
			m.records[userID] = append(recs[:i], recs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("memory: record %q not found", id)
}
