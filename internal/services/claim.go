package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "rosina/internal/errors"
	"rosina/internal/infrastructure"
	"rosina/internal/store"
	"rosina/pkg/contracts/domain"
)

// ClaimResult is the buyer-facing payload for a consumed claim token.
type ClaimResult struct {
	Provider domain.Provider        `json:"provider"`
	Keys     []domain.IssuedKey     `json:"keys"`
	Items    []domain.PurchasedItem `json:"items"`
}

// ClaimService resolves single-use claim tokens into purchased items,
// tolerating fulfillment still being in flight.
type ClaimService struct {
	claims    ClaimTokenStore
	orders    OrderStore
	cipher    BundleCipher
	fulfiller Fulfiller
	metrics   *infrastructure.Metrics
	logger    *slog.Logger

	now func() time.Time
}

// NewClaimService wires the claim resolver. fulfiller may be the real
// orchestrator or a stub in tests.
func NewClaimService(
	claims ClaimTokenStore,
	orders OrderStore,
	cipher BundleCipher,
	fulfiller Fulfiller,
	metrics *infrastructure.Metrics,
	logger *slog.Logger,
) *ClaimService {
	return &ClaimService{
		claims:    claims,
		orders:    orders,
		cipher:    cipher,
		fulfiller: fulfiller,
		metrics:   metrics,
		logger:    infrastructure.WithComponent(logger, "claims"),
		now:       time.Now,
	}
}

// Claim resolves and consumes a claim token. Error mapping: malformed,
// unknown, spent, or expired tokens are ErrClaimInvalid; a valid token
// whose order is not ready yet is ErrClaimNotReady so the caller polls.
func (s *ClaimService) Claim(ctx context.Context, token string) (*ClaimResult, error) {
	if !domain.ValidClaimTokenFormat(token) {
		s.metrics.Claims.WithLabelValues("invalid").Inc()
		return nil, apperrors.ErrClaimInvalid
	}

	now := s.now()
	claim, err := s.claims.GetLiveClaimToken(ctx, token, now)
	if errors.Is(err, store.ErrNotFound) {
		s.metrics.Claims.WithLabelValues("invalid").Inc()
		return nil, apperrors.ErrClaimInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("look up claim token: %w", err)
	}

	logger := s.logger.With("provider", claim.Provider, "session_id", claim.ProviderSessionID)

	order, err := s.loadOrder(ctx, claim)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load order for claim: %w", err)
	}

	// Zero-key orders are checked before any re-fulfillment attempt so a
	// no-license purchase never loops through "pending".
	if order != nil && order.ZeroKeyFulfilled() {
		return s.finishZeroKey(ctx, claim, order)
	}

	if order == nil || len(order.KeysEncrypted) == 0 {
		// One internal re-trigger per request; the browser owns polling.
		logger.InfoContext(ctx, "claim found unfulfilled order, triggering fulfillment")
		if _, err := s.fulfiller.Fulfill(ctx, FulfillRequest{
			Provider:  claim.Provider,
			SessionID: claim.ProviderSessionID,
		}); err != nil {
			logger.DebugContext(ctx, "internal fulfillment attempt failed", "error", err)
		}

		order, err = s.loadOrder(ctx, claim)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("reload order for claim: %w", err)
		}
		if order != nil && order.ZeroKeyFulfilled() {
			return s.finishZeroKey(ctx, claim, order)
		}
		if order == nil || len(order.KeysEncrypted) == 0 {
			s.metrics.Claims.WithLabelValues("pending").Inc()
			return nil, apperrors.ErrClaimNotReady
		}
	}

	// Consume strictly after the bundle is known to exist, so a pending
	// poll never burns the token.
	if err := s.claims.ConsumeClaimToken(ctx, token, s.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.Claims.WithLabelValues("lost_race").Inc()
			return nil, apperrors.ErrClaimInvalid
		}
		return nil, fmt.Errorf("consume claim token: %w", err)
	}

	bundle, err := s.cipher.DecryptBundle(order.KeysEncrypted)
	if err != nil {
		logger.ErrorContext(ctx, "claim bundle failed to decrypt", "error", err)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrBundleCorrupt, err)
	}

	s.metrics.Claims.WithLabelValues("claimed").Inc()
	logger.InfoContext(ctx, "claim token consumed", "key_count", len(bundle.Keys))

	return &ClaimResult{
		Provider: claim.Provider,
		Keys:     bundle.Keys,
		Items:    buildPurchasedItems(order, bundle.Keys),
	}, nil
}

func (s *ClaimService) loadOrder(ctx context.Context, claim *domain.ClaimToken) (*domain.Order, error) {
	if claim.OrderID != "" {
		return s.orders.GetOrderByID(ctx, claim.OrderID)
	}
	return s.orders.GetOrderBySession(ctx, claim.Provider, claim.ProviderSessionID)
}

func (s *ClaimService) finishZeroKey(ctx context.Context, claim *domain.ClaimToken, order *domain.Order) (*ClaimResult, error) {
	if err := s.claims.ConsumeClaimToken(ctx, claim.Token, s.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.Claims.WithLabelValues("lost_race").Inc()
			return nil, apperrors.ErrClaimInvalid
		}
		return nil, fmt.Errorf("consume claim token: %w", err)
	}
	s.metrics.Claims.WithLabelValues("claimed_zero_key").Inc()
	return &ClaimResult{
		Provider: claim.Provider,
		Keys:     []domain.IssuedKey{},
		Items:    buildPurchasedItems(order, nil),
	}, nil
}

// buildPurchasedItems reshapes the raw key list into per-line entries.
// Keys match cart lines first on the exact (product, variant) pair, then
// on product alone; keys matched to nothing are still surfaced.
func buildPurchasedItems(order *domain.Order, issued []domain.IssuedKey) []domain.PurchasedItem {
	used := make([]bool, len(issued))

	takeKey := func(productID, variantID string, exact bool) *domain.IssuedKey {
		for i := range issued {
			if used[i] {
				continue
			}
			if issued[i].ProductID != productID {
				continue
			}
			if exact && issued[i].ProductVariantID != variantID {
				continue
			}
			used[i] = true
			return &issued[i]
		}
		return nil
	}

	issuedAt := order.CreatedAt
	if order.FulfilledAt != nil {
		issuedAt = *order.FulfilledAt
	}

	items := make([]domain.PurchasedItem, 0, len(order.Cart.Items))
	for _, line := range order.Cart.Items {
		duration := line.ResolvedDuration()

		var expires *time.Time
		if duration > 0 {
			e := issuedAt.Add(time.Duration(duration * 24 * float64(time.Hour)))
			expires = &e
		}

		for unit := 0; unit < line.Quantity(); unit++ {
			item := domain.PurchasedItem{
				ProductID:        line.ProductID,
				ProductVariantID: line.VariantID,
				Title:            line.Title,
				Quantity:         1,
				DurationDays:     duration,
				ExpiresAt:        expires,
			}
			if line.NeedsKey() {
				k := takeKey(line.ProductID, line.VariantID, true)
				if k == nil {
					k = takeKey(line.ProductID, "", false)
				}
				if k != nil {
					item.Key = &k.Key
				}
			}
			items = append(items, item)
		}
	}

	// Leftover keys belong to the buyer even if the cart rows they were
	// issued against are gone.
	for i := range issued {
		if used[i] {
			continue
		}
		items = append(items, domain.PurchasedItem{
			ProductID:        issued[i].ProductID,
			ProductVariantID: issued[i].ProductVariantID,
			Quantity:         1,
			Key:              &issued[i].Key,
		})
	}
	return items
}
