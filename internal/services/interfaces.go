package services

import (
	"context"
	"encoding/json"
	"time"

	"rosina/internal/payments"
	"rosina/internal/store"
	"rosina/pkg/contracts/domain"
)

// OrderStore is the order persistence surface fulfillment and claims
// depend on. The conditional-update semantics live in the method
// contracts: SetOrderFulfilled writes the bundle at most once.
type OrderStore interface {
	GetOrderBySession(ctx context.Context, provider domain.Provider, sessionID string) (*domain.Order, error)
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	CreateOrder(ctx context.Context, order *domain.Order) (*domain.Order, error)
	SetOrderFulfilled(ctx context.Context, provider domain.Provider, sessionID string, upd store.FulfillUpdate) error
	SetOrderEmailed(ctx context.Context, provider domain.Provider, sessionID string, at time.Time) error
	ProductKeyPrefixes(ctx context.Context, productIDs []string) (map[string]string, error)
}

// LicenseKeyStore persists issued key rows and performs the atomic
// redemption compare-and-swap.
type LicenseKeyStore interface {
	InsertLicenseKeys(ctx context.Context, keys []domain.LicenseKey) error
	RedeemLicenseKey(ctx context.Context, keyHash, userID string) (*domain.LicenseKey, error)
}

// ClaimTokenStore persists claim tokens. Consume succeeds for exactly one
// caller per token.
type ClaimTokenStore interface {
	CreateClaimToken(ctx context.Context, t *domain.ClaimToken) error
	GetLiveClaimToken(ctx context.Context, token string, now time.Time) (*domain.ClaimToken, error)
	FindLiveClaimTokenBySession(ctx context.Context, provider domain.Provider, sessionID string, now time.Time) (*domain.ClaimToken, error)
	ConsumeClaimToken(ctx context.Context, token string, now time.Time) error
	DeleteExpiredClaimTokens(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventStore is the webhook idempotency ledger.
type EventStore interface {
	RecordEvent(ctx context.Context, provider domain.Provider, eventID string) (bool, error)
	DeleteEvent(ctx context.Context, provider domain.Provider, eventID string) error
}

// ChargeStore persists Coinbase charge status records.
type ChargeStore interface {
	UpsertCharge(ctx context.Context, id string, status domain.ChargeStatus, raw json.RawMessage) error
	GetCharge(ctx context.Context, id string) (*domain.Charge, error)
}

// SessionVerifier confirms a Stripe checkout session directly with the
// provider before any keys are issued.
type SessionVerifier interface {
	VerifySession(ctx context.Context, sessionID string) (payments.SessionVerification, error)
}

// BundleCipher seals and opens the encrypted key bundle on order rows.
type BundleCipher interface {
	EncryptBundle(bundle domain.KeyBundle) ([]byte, error)
	DecryptBundle(data []byte) (domain.KeyBundle, error)
}

// Fulfiller is the orchestrator entry point the claim resolver uses for
// its single internal re-trigger.
type Fulfiller interface {
	Fulfill(ctx context.Context, req FulfillRequest) (*domain.FulfillmentResult, error)
}
