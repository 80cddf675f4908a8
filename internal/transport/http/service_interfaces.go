package http

import (
	"context"

	"rosina/internal/services"
	"rosina/pkg/contracts/domain"
)

// ClaimResolver resolves single-use claim tokens. Implemented by
// services.ClaimService.
type ClaimResolver interface {
	Claim(ctx context.Context, token string) (*services.ClaimResult, error)
}

// KeyRedeemer redeems a license key on behalf of an authenticated app
// user. Implemented by services.RedeemService.
type KeyRedeemer interface {
	Redeem(ctx context.Context, accessToken, rawKey string) (*domain.LicenseKey, error)
}

// HealthChecker reports datastore reachability for the readiness probe.
// Implemented by store.Store.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
