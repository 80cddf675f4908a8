package store

import (
	"context"
	"fmt"

	"rosina/pkg/contracts/domain"
)

// RecordEvent claims a webhook event id for processing. It returns true
// when this call inserted the marker and the caller owns the event, false
// when a previous delivery already holds it.
func (s *Store) RecordEvent(ctx context.Context, provider domain.Provider, eventID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `INSERT INTO processed_events (provider, event_id)
VALUES ($1, $2)
ON CONFLICT (provider, event_id) DO NOTHING`, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("record event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteEvent rolls back an event marker after a failed fulfillment so the
// provider's retry is processed instead of dropped.
func (s *Store) DeleteEvent(ctx context.Context, provider domain.Provider, eventID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM processed_events WHERE provider = $1 AND event_id = $2`, provider, eventID)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}
