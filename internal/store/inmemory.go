package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxAlertsPerSession caps retained history so a runaway session cannot grow
// the process without bound.
const maxAlertsPerSession = 256

// InMemoryStore is a simple in-process alert store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]AlertRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]AlertRecord)}
}

func (s *InMemoryStore) SaveAlert(_ context.Context, record AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	arr := append(s.records[record.SessionID], record)
	if len(arr) > maxAlertsPerSession {
		arr = arr[len(arr)-maxAlertsPerSession:]
	}
	s.records[record.SessionID] = arr
	return nil
}

func (s *InMemoryStore) RecentAlerts(_ context.Context, sessionID string, limit int) ([]AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]AlertRecord, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
