package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openclear/risk-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh the cache; reads check
// Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) SaveSnapshot(ctx context.Context, account model.Account,
	snapshot Snapshot) error {
	if err := s.primary.SaveSnapshot(ctx, account, snapshot); err != nil {
		return err
	}
	s.cacheSnapshot(ctx, account, snapshot)
	return nil
}

func (s *CachedStore) LoadSnapshot(ctx context.Context,
	account model.Account) (Snapshot, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, snapshotKey(account)).Bytes()
	if err == nil {
		var snapshot Snapshot
		if json.Unmarshal(data, &snapshot) == nil {
			return snapshot, nil
		}
	}

	// Cache miss: read from primary.
	snapshot, err := s.primary.LoadSnapshot(ctx, account)
	if err != nil {
		return Snapshot{}, err
	}
	s.cacheSnapshot(ctx, account, snapshot)
	return snapshot, nil
}

// Accounts is not cached; it only runs at startup.
func (s *CachedStore) Accounts(ctx context.Context) ([]model.Account, error) {
	return s.primary.Accounts(ctx)
}

func (s *CachedStore) cacheSnapshot(ctx context.Context, account model.Account,
	snapshot Snapshot) {
	if data, err := json.Marshal(snapshot); err == nil {
		s.rdb.Set(ctx, snapshotKey(account), data, s.ttl)
	}
}

func snapshotKey(account model.Account) string {
	return fmt.Sprintf("snapshot:%s", account)
}
