// Package domain contains the core domain models for the Rosina storefront
// fulfillment service. These types serve as the Single Source of Truth (SSOT)
// for all layers of the application.
package domain

import (
	"time"
)

// Provider identifies the payment provider that confirmed an order.
type Provider string

const (
	ProviderStripe   Provider = "stripe"
	ProviderCoinbase Provider = "coinbase"
)

// Valid reports whether p is a known payment provider.
func (p Provider) Valid() bool {
	return p == ProviderStripe || p == ProviderCoinbase
}

// OrderStatus represents the fulfillment state of an order.
// Transitions are monotonic: created -> fulfilled -> emailed.
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusFulfilled OrderStatus = "fulfilled"
	OrderStatusEmailed   OrderStatus = "emailed"
)

// Order is the durable record of a checkout, one per
// (provider, provider_session_id).
type Order struct {
	ID                string      `json:"id" db:"id"`
	Provider          Provider    `json:"provider" db:"provider" validate:"required"`
	ProviderSessionID string      `json:"provider_session_id" db:"provider_session_id" validate:"required"`
	BuyerEmail        string      `json:"buyer_email" db:"buyer_email" validate:"omitempty,email"`
	Cart              Cart        `json:"cart" db:"cart"`
	Status            OrderStatus `json:"status" db:"status"`

	// KeysEncrypted is the nonce-prefixed AES-GCM ciphertext of the key
	// bundle. Write-once: set during fulfillment and never mutated.
	KeysEncrypted []byte `json:"-" db:"keys_encrypted"`
	KeysCount     int    `json:"keys_count" db:"keys_count"`

	// Snapshots of the verifying provider objects, stored at fulfillment
	// time for auditing.
	StripeSession  map[string]interface{} `json:"stripe_session,omitempty" db:"stripe_session"`
	CoinbaseCharge map[string]interface{} `json:"coinbase_charge,omitempty" db:"coinbase_charge"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	FulfilledAt *time.Time `json:"fulfilled_at,omitempty" db:"fulfilled_at"`
	EmailedAt   *time.Time `json:"emailed_at,omitempty" db:"emailed_at"`
}

// Fulfilled reports whether the order has reached at least the fulfilled state.
func (o *Order) Fulfilled() bool {
	return o.Status == OrderStatusFulfilled || o.Status == OrderStatusEmailed
}

// ZeroKeyFulfilled reports whether the order was fulfilled with no license
// keys because no line item required one.
func (o *Order) ZeroKeyFulfilled() bool {
	return o.Fulfilled() && o.KeysCount == 0 && len(o.KeysEncrypted) == 0
}

// FulfillmentResult is the summary returned by the fulfillment orchestrator.
type FulfillmentResult struct {
	OK         bool        `json:"ok"`
	BuyerEmail string      `json:"buyer_email"`
	EmailSent  bool        `json:"email_sent"`
	EmailError string      `json:"email_error,omitempty"`
	KeyCount   int         `json:"key_count"`
	ClaimToken string      `json:"claim_token"`
	Keys       []IssuedKey `json:"-"`
}
