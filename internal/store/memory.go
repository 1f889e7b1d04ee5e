package store

import (
	"context"
	"sync"

	"github.com/openclear/risk-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[model.Account]Snapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[model.Account]Snapshot),
	}
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, account model.Account,
	snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	copied := snapshot
	copied.Inventories = append([]model.Inventory(nil), snapshot.Inventories...)
	s.snapshots[account] = copied
	return nil
}

func (s *MemoryStore) LoadSnapshot(_ context.Context,
	account model.Account) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[account]
	if !ok {
		return Snapshot{}, nil
	}
	copied := snapshot
	copied.Inventories = append([]model.Inventory(nil), snapshot.Inventories...)
	return copied, nil
}

func (s *MemoryStore) Accounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]model.Account, 0, len(s.snapshots))
	for account := range s.snapshots {
		accounts = append(accounts, account)
	}
	return accounts, nil
}
