package store

import (
	"context"
	"fmt"

	"rosina/pkg/contracts/domain"
)

// InsertLicenseKeys stores a batch of freshly issued key rows in one
// transaction. Either all rows land or none do.
func (s *Store) InsertLicenseKeys(ctx context.Context, keys []domain.LicenseKey) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert keys: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, k := range keys {
		if _, err := tx.Exec(ctx, `INSERT INTO license_keys (key_hash, status, issued_for_session, product_id, product_variant_id)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))`,
			k.KeyHash, k.Status, k.IssuedForSession, k.ProductID, k.ProductVariantID); err != nil {
			return fmt.Errorf("insert license key: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert keys: %w", err)
	}
	return nil
}

// RedeemLicenseKey flips a key to redeemed for the given app user. The
// WHERE clause only matches an issued, unredeemed row, so exactly one of
// any number of concurrent redemptions succeeds; the rest get ErrNotFound.
func (s *Store) RedeemLicenseKey(ctx context.Context, keyHash, userID string) (*domain.LicenseKey, error) {
	row := s.db.QueryRow(ctx, `UPDATE license_keys
SET status = $2, redeemed_by_app = $3, redeemed_at = now()
WHERE key_hash = $1 AND status = $4 AND redeemed_by_app IS NULL
RETURNING key_hash, status, issued_for_session,
          COALESCE(product_id, ''), COALESCE(product_variant_id, ''),
          COALESCE(redeemed_by_app, ''), redeemed_at`,
		keyHash, domain.LicenseKeyStatusRedeemed, userID, domain.LicenseKeyStatusIssued)

	var k domain.LicenseKey
	err := row.Scan(&k.KeyHash, &k.Status, &k.IssuedForSession,
		&k.ProductID, &k.ProductVariantID, &k.RedeemedByApp, &k.RedeemedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &k, nil
}
