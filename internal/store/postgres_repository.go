package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/locallum/blockchain-subscription-service/internal/domain"
)

// DBTX is the subset of pgxpool.Pool the postgres repository needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository keeps the ledger as a single JSONB document, so a save is one
// atomic upsert and a load never observes half of a collection.
type PostgresRepository struct {
	db DBTX
}

// NewPostgresRepository creates a new repository.
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Load fetches the persisted collection; no snapshot row means an empty ledger.
func (r *PostgresRepository) Load(ctx context.Context) ([]domain.Subscription, error) {
	query := `SELECT records FROM ledger_snapshots WHERE id = 1`

	var raw []byte
	if err := r.db.QueryRow(ctx, query).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []domain.Subscription{}, nil
		}
		return nil, err
	}

	var records []domain.Subscription
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("decode ledger snapshot: %w", err)
		}
	}
	if records == nil {
		records = []domain.Subscription{}
	}
	return records, nil
}

// Save replaces the persisted collection.
func (r *PostgresRepository) Save(ctx context.Context, records []domain.Subscription) error {
	if records == nil {
		records = []domain.Subscription{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode ledger snapshot: %w", err)
	}

	query := `
        INSERT INTO ledger_snapshots (id, records, updated_at)
        VALUES (1, $1, NOW())
        ON CONFLICT (id) DO UPDATE SET
            records = EXCLUDED.records,
            updated_at = NOW()
    `
	_, err = r.db.Exec(ctx, query, raw)
	return err
}
