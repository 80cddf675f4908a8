package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"rosina/internal/auth"
	apperrors "rosina/internal/errors"
	"rosina/internal/infrastructure"
	"rosina/internal/keys"
	"rosina/internal/store"
	"rosina/pkg/contracts/domain"
)

// minRedeemKeyLength rejects obviously malformed input before touching
// the database.
const minRedeemKeyLength = 10

// RedeemService redeems a license key against an authenticated app user.
type RedeemService struct {
	verifier    auth.Verifier
	licenseKeys LicenseKeyStore
	metrics     *infrastructure.Metrics
	logger      *slog.Logger
	hashSecret  string
}

// NewRedeemService wires the redemption flow.
func NewRedeemService(verifier auth.Verifier, licenseKeys LicenseKeyStore, metrics *infrastructure.Metrics, logger *slog.Logger, hashSecret string) *RedeemService {
	return &RedeemService{
		verifier:    verifier,
		licenseKeys: licenseKeys,
		metrics:     metrics,
		logger:      infrastructure.WithComponent(logger, "redeem"),
		hashSecret:  hashSecret,
	}
}

// Redeem validates the caller's session, then flips the key to redeemed
// with a single compare-and-swap. The exact submitted key is tried first;
// the uppercased form is a fallback for legacy uppercase imports.
func (s *RedeemService) Redeem(ctx context.Context, accessToken, rawKey string) (*domain.LicenseKey, error) {
	userID, err := s.verifier.VerifyToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			s.metrics.Redemptions.WithLabelValues("unauthorized").Inc()
			return nil, err
		}
		return nil, fmt.Errorf("verify access token: %w", err)
	}

	key := strings.TrimSpace(rawKey)
	if len(key) < minRedeemKeyLength {
		s.metrics.Redemptions.WithLabelValues("invalid").Inc()
		return nil, apperrors.ErrKeyNotRedeemable
	}

	row, err := s.licenseKeys.RedeemLicenseKey(ctx, keys.Hash(s.hashSecret, key), userID)
	if errors.Is(err, store.ErrNotFound) {
		if upper := strings.ToUpper(key); upper != key {
			row, err = s.licenseKeys.RedeemLicenseKey(ctx, keys.Hash(s.hashSecret, upper), userID)
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		s.metrics.Redemptions.WithLabelValues("rejected").Inc()
		return nil, apperrors.ErrKeyNotRedeemable
	}
	if err != nil {
		return nil, fmt.Errorf("redeem key: %w", err)
	}

	s.metrics.Redemptions.WithLabelValues("redeemed").Inc()
	s.logger.InfoContext(ctx, "license key redeemed",
		"user_id", userID,
		"product_id", row.ProductID,
	)
	return row, nil
}
