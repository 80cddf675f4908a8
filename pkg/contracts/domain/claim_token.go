package domain

import (
	"strings"
	"time"
)

// ClaimTokenPrefix is the literal prefix every claim token carries.
const ClaimTokenPrefix = "claim_"

// ClaimToken is a single-use, time-limited bearer credential that lets a
// buyer fetch their purchased keys without an account.
type ClaimToken struct {
	Token             string     `json:"token" db:"token"`
	Provider          Provider   `json:"provider" db:"provider"`
	ProviderSessionID string     `json:"session_id" db:"session_id"`
	OrderID           string     `json:"order_id,omitempty" db:"order_id"`
	ExpiresAt         time.Time  `json:"expires_at" db:"expires_at"`
	UsedAt            *time.Time `json:"used_at,omitempty" db:"used_at"`
}

// Live reports whether the token is still consumable at the given instant.
func (t *ClaimToken) Live(now time.Time) bool {
	return t.UsedAt == nil && t.ExpiresAt.After(now)
}

// ValidClaimTokenFormat reports whether the supplied string is plausibly a
// claim token. Real validity is decided by the datastore lookup.
func ValidClaimTokenFormat(token string) bool {
	return strings.HasPrefix(token, ClaimTokenPrefix) && len(token) > len(ClaimTokenPrefix)
}

// ProcessedEvent is one row of the webhook idempotency ledger, insert-only
// with a uniqueness constraint on (provider, event_id).
type ProcessedEvent struct {
	Provider    Provider  `json:"provider" db:"provider"`
	EventID     string    `json:"event_id" db:"event_id"`
	ProcessedAt time.Time `json:"processed_at" db:"processed_at"`
}

// ChargeStatus is the lifecycle status of a Coinbase Commerce charge as
// reported by webhook events.
type ChargeStatus string

const (
	ChargeStatusPending   ChargeStatus = "PENDING"
	ChargeStatusConfirmed ChargeStatus = "CONFIRMED"
	ChargeStatusFailed    ChargeStatus = "FAILED"
	ChargeStatusExpired   ChargeStatus = "EXPIRED"
)

// Charge is the persisted status record for a Coinbase Commerce charge,
// upserted by the webhook handler before any fulfillment is triggered.
type Charge struct {
	ID        string                 `json:"id" db:"id"`
	Status    ChargeStatus           `json:"status" db:"status"`
	Raw       map[string]interface{} `json:"raw,omitempty" db:"raw"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}
