package notify

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory notification store for demo/development mode.
type MemoryStore struct {
	mu     sync.Mutex
	byUser map[string][]*Notification
}

// NewMemoryStore creates a new in-memory notification store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byUser: make(map[string][]*Notification)}
}

func (m *MemoryStore) Insert(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *n
	m.byUser[n.UserID] = append(m.byUser[n.UserID], &cp)
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	all := m.byUser[userID]
	result := make([]*Notification, 0, limit)
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		cp := *all[i]
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) MarkRead(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, n := range m.byUser[userID] {
		if n.ID == id {
			n.Read = true
			return nil
		}
	}
	return ErrNotificationNotFound
}
