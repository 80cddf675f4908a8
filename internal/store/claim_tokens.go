package store

import (
	"context"
	"fmt"
	"time"

	"rosina/pkg/contracts/domain"
)

// CreateClaimToken stores a freshly minted claim token.
func (s *Store) CreateClaimToken(ctx context.Context, t *domain.ClaimToken) error {
	_, err := s.db.Exec(ctx, `INSERT INTO claim_tokens (token, provider, session_id, order_id, expires_at)
VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5)`,
		t.Token, t.Provider, t.ProviderSessionID, t.OrderID, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert claim token: %w", err)
	}
	return nil
}

// GetLiveClaimToken loads a token only if it is unused and unexpired at
// the given instant. Spent, expired, and unknown tokens are all ErrNotFound;
// callers must not distinguish them to the outside.
func (s *Store) GetLiveClaimToken(ctx context.Context, token string, now time.Time) (*domain.ClaimToken, error) {
	row := s.db.QueryRow(ctx, `SELECT token, provider, session_id, COALESCE(order_id::text, ''), expires_at, used_at
FROM claim_tokens
WHERE token = $1 AND used_at IS NULL AND expires_at > $2`, token, now)

	var t domain.ClaimToken
	err := row.Scan(&t.Token, &t.Provider, &t.ProviderSessionID, &t.OrderID, &t.ExpiresAt, &t.UsedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &t, nil
}

// FindLiveClaimTokenBySession returns the newest unused, unexpired token
// for a session, so fulfillment reuses a live token instead of minting a
// second one.
func (s *Store) FindLiveClaimTokenBySession(ctx context.Context, provider domain.Provider, sessionID string, now time.Time) (*domain.ClaimToken, error) {
	row := s.db.QueryRow(ctx, `SELECT token, provider, session_id, COALESCE(order_id::text, ''), expires_at, used_at
FROM claim_tokens
WHERE provider = $1 AND session_id = $2 AND used_at IS NULL AND expires_at > $3
ORDER BY expires_at DESC
LIMIT 1`, provider, sessionID, now)

	var t domain.ClaimToken
	err := row.Scan(&t.Token, &t.Provider, &t.ProviderSessionID, &t.OrderID, &t.ExpiresAt, &t.UsedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &t, nil
}

// ConsumeClaimToken atomically marks a live token as used. Only one of any
// number of concurrent consumers gets a row back; the rest see ErrNotFound.
func (s *Store) ConsumeClaimToken(ctx context.Context, token string, now time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE claim_tokens
SET used_at = $2
WHERE token = $1 AND used_at IS NULL AND expires_at > $2`, token, now)
	if err != nil {
		return fmt.Errorf("consume claim token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpiredClaimTokens removes tokens whose expiry passed before the
// cutoff. Used and merely expired rows alike are swept; the table only
// needs to hold live tokens.
func (s *Store) DeleteExpiredClaimTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM claim_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired claim tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
