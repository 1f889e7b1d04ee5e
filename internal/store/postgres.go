package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/openclear/risk-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// SaveSnapshot replaces the account's rows in one transaction so a reader
// never observes a half-written snapshot.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, account model.Account,
	snapshot Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", account, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM inventory_snapshots WHERE account = $1`, account); err != nil {
		return fmt.Errorf("save snapshot %s: %w", account, err)
	}
	for _, inv := range snapshot.Inventories {
		_, err := tx.Exec(ctx,
			`INSERT INTO inventory_snapshots
			    (account, symbol, venue, currency, quantity, cost_basis,
			     gross_pnl, fees, volume, transaction_count, sequence)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC,
			         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11)`,
			account, inv.Position.Security.Symbol, inv.Position.Security.Venue,
			inv.Position.Currency,
			inv.Position.Quantity.String(), inv.Position.CostBasis.String(),
			inv.GrossProfitAndLoss.String(), inv.Fees.String(),
			inv.Volume.String(), inv.TransactionCount, snapshot.Sequence,
		)
		if err != nil {
			return fmt.Errorf("save snapshot %s: %w", account, err)
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO snapshot_sequences (account, sequence)
		 VALUES ($1, $2)
		 ON CONFLICT (account) DO UPDATE SET sequence = EXCLUDED.sequence`,
		account, snapshot.Sequence); err != nil {
		return fmt.Errorf("save snapshot %s: %w", account, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context,
	account model.Account) (Snapshot, error) {
	var snapshot Snapshot
	err := s.pool.QueryRow(ctx,
		`SELECT sequence FROM snapshot_sequences WHERE account = $1`, account).
		Scan(&snapshot.Sequence)
	if err == pgx.ErrNoRows {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot %s: %w", account, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT symbol, venue, currency,
		        quantity::TEXT, cost_basis::TEXT,
		        gross_pnl::TEXT, fees::TEXT, volume::TEXT,
		        transaction_count
		 FROM inventory_snapshots WHERE account = $1
		 ORDER BY currency, venue, symbol`, account)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot %s: %w", account, err)
	}
	defer rows.Close()

	for rows.Next() {
		var inv model.Inventory
		var quantity, costBasis, gross, fees, volume string
		if err := rows.Scan(&inv.Position.Security.Symbol,
			&inv.Position.Security.Venue, &inv.Position.Currency,
			&quantity, &costBasis, &gross, &fees, &volume,
			&inv.TransactionCount); err != nil {
			return Snapshot{}, fmt.Errorf("load snapshot %s: %w", account, err)
		}
		inv.Position.Quantity, _ = decimal.NewFromString(quantity)
		inv.Position.CostBasis, _ = decimal.NewFromString(costBasis)
		inv.GrossProfitAndLoss, _ = decimal.NewFromString(gross)
		inv.Fees, _ = decimal.NewFromString(fees)
		inv.Volume, _ = decimal.NewFromString(volume)
		snapshot.Inventories = append(snapshot.Inventories, inv)
	}
	return snapshot, rows.Err()
}

func (s *PostgresStore) Accounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account FROM snapshot_sequences ORDER BY account`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var account model.Account
		if err := rows.Scan(&account); err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}
