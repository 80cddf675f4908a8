package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rosina/pkg/contracts/domain"
)

// UpsertCharge stores the latest known status for a Coinbase charge along
// with the raw event payload for auditing. Later events overwrite earlier
// ones; the webhook handler decides what counts as the current status.
func (s *Store) UpsertCharge(ctx context.Context, id string, status domain.ChargeStatus, raw json.RawMessage) error {
	_, err := s.db.Exec(ctx, `INSERT INTO coinbase_charges (id, status, raw, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    raw = EXCLUDED.raw,
    updated_at = EXCLUDED.updated_at`, id, status, raw)
	if err != nil {
		return fmt.Errorf("upsert charge: %w", err)
	}
	return nil
}

// GetCharge loads a charge record. Unknown charges are ErrNotFound;
// callers typically report those as PENDING.
func (s *Store) GetCharge(ctx context.Context, id string) (*domain.Charge, error) {
	row := s.db.QueryRow(ctx, `SELECT id, status, raw, updated_at FROM coinbase_charges WHERE id = $1`, id)

	var (
		c         domain.Charge
		updatedAt time.Time
	)
	if err := row.Scan(&c.ID, &c.Status, &c.Raw, &updatedAt); err != nil {
		return nil, mapNoRows(err)
	}
	c.UpdatedAt = updatedAt
	return &c, nil
}
