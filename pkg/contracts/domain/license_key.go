package domain

import (
	"time"
)

// LicenseKeyStatus represents the redemption state of an issued key.
type LicenseKeyStatus string

const (
	LicenseKeyStatusIssued   LicenseKeyStatus = "issued"
	LicenseKeyStatusRedeemed LicenseKeyStatus = "redeemed"
)

// LicenseKey is one issued license key row. Only the one-way hash of the
// plaintext key is stored; the plaintext is recoverable solely through the
// order's encrypted bundle.
type LicenseKey struct {
	KeyHash          string           `json:"key_hash" db:"key_hash"`
	Status           LicenseKeyStatus `json:"status" db:"status"`
	IssuedForSession string           `json:"issued_for_session" db:"issued_for_session"`
	ProductID        string           `json:"product_id" db:"product_id"`
	ProductVariantID string           `json:"product_variant_id,omitempty" db:"product_variant_id"`
	RedeemedByApp    string           `json:"redeemed_by_app,omitempty" db:"redeemed_by_app"`
	RedeemedAt       *time.Time       `json:"redeemed_at,omitempty" db:"redeemed_at"`
}

// IssuedKey is a freshly minted plaintext key tagged with the line item it
// was issued for. Held in memory only for the duration of request handling.
type IssuedKey struct {
	Key              string `json:"key"`
	ProductID        string `json:"product_id,omitempty"`
	ProductVariantID string `json:"product_variant_id,omitempty"`
}

// KeyBundle is the plaintext payload encrypted into an order's
// keys_encrypted column.
type KeyBundle struct {
	Keys []IssuedKey `json:"keys"`
}

// PurchasedItem is the buyer-facing view of one claimed line item.
type PurchasedItem struct {
	ProductID        string     `json:"product_id"`
	ProductVariantID string     `json:"product_variant_id,omitempty"`
	Title            string     `json:"title,omitempty"`
	Quantity         int        `json:"quantity"`
	Key              *string    `json:"key"`
	DurationDays     float64    `json:"duration_days,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}
