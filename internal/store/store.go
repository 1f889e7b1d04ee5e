// Package store defines snapshot persistence for the risk engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/openclear/risk-engine/internal/model"
)

// Snapshot is an account's persisted accounting state: every inventory it
// has ever traded plus the sequence number of the last applied update.
type Snapshot struct {
	Inventories []model.Inventory `json:"inventories"`
	Sequence    int64             `json:"sequence"`
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// SaveSnapshot replaces an account's snapshot.
	SaveSnapshot(ctx context.Context, account model.Account, snapshot Snapshot) error

	// LoadSnapshot returns an account's snapshot. An account never saved
	// yields an empty snapshot, not an error.
	LoadSnapshot(ctx context.Context, account model.Account) (Snapshot, error)

	// Accounts lists every account with a saved snapshot.
	Accounts(ctx context.Context) ([]model.Account, error)
}
