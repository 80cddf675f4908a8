package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	apperrors "rosina/internal/errors"
	"rosina/internal/infrastructure"
	"rosina/internal/keys"
	"rosina/internal/notify"
	"rosina/internal/store"
	"rosina/pkg/contracts/domain"
)

// FulfillRequest identifies the payment to fulfill. BuyerEmail and Cart
// are only consulted on the recovery path when no order row exists yet.
type FulfillRequest struct {
	Provider   domain.Provider
	SessionID  string
	BuyerEmail string
	Cart       *domain.Cart

	// FromWebhook marks calls triggered by a verified provider event.
	// Webhook calls never reconstruct a missing order from request data;
	// the checkout flow is responsible for having stored it.
	FromWebhook bool
}

// FulfillmentService is the orchestrator: it verifies payment, issues
// keys, persists the encrypted bundle, mints a claim token, and sends the
// delivery email. Re-entrant calls after keys exist are safe no-ops that
// return the same key count.
type FulfillmentService struct {
	orders      OrderStore
	licenseKeys LicenseKeyStore
	claims      ClaimTokenStore
	charges     ChargeStore
	stripe      SessionVerifier
	cipher      BundleCipher
	sender      notify.Sender
	metrics     *infrastructure.Metrics
	logger      *slog.Logger

	hashSecret string
	claimTTL   time.Duration
	baseURL    string

	now func() time.Time
}

// FulfillmentConfig carries the orchestrator's tunables.
type FulfillmentConfig struct {
	HashSecret string
	ClaimTTL   time.Duration
	BaseURL    string
}

// NewFulfillmentService wires the orchestrator.
func NewFulfillmentService(
	orders OrderStore,
	licenseKeys LicenseKeyStore,
	claims ClaimTokenStore,
	charges ChargeStore,
	stripe SessionVerifier,
	cipher BundleCipher,
	sender notify.Sender,
	metrics *infrastructure.Metrics,
	logger *slog.Logger,
	cfg FulfillmentConfig,
) *FulfillmentService {
	return &FulfillmentService{
		orders:      orders,
		licenseKeys: licenseKeys,
		claims:      claims,
		charges:     charges,
		stripe:      stripe,
		cipher:      cipher,
		sender:      sender,
		metrics:     metrics,
		logger:      infrastructure.WithComponent(logger, "fulfillment"),
		hashSecret:  cfg.HashSecret,
		claimTTL:    cfg.ClaimTTL,
		baseURL:     cfg.BaseURL,
		now:         time.Now,
	}
}

// Fulfill runs the state machine for one (provider, session) pair.
func (s *FulfillmentService) Fulfill(ctx context.Context, req FulfillRequest) (*domain.FulfillmentResult, error) {
	start := s.now()
	defer func() {
		s.metrics.FulfillDuration.Observe(s.now().Sub(start).Seconds())
	}()

	logger := s.logger.With(
		"provider", req.Provider,
		"session_id", req.SessionID,
	)

	if !req.Provider.Valid() || req.SessionID == "" {
		return nil, fmt.Errorf("%w: provider/session id required", apperrors.ErrOrderDataMissing)
	}

	order, err := s.loadOrCreateOrder(ctx, req, logger)
	if err != nil {
		s.metrics.Fulfillments.WithLabelValues(string(req.Provider), "error").Inc()
		return nil, err
	}

	// Idempotent re-entry: once the bundle exists, re-verification and
	// re-issuance never happen again.
	if len(order.KeysEncrypted) > 0 {
		return s.completeFromExistingBundle(ctx, order, req, logger)
	}
	if order.ZeroKeyFulfilled() {
		return s.completeZeroKey(ctx, order, logger)
	}

	buyerEmail, stripeSnap, coinbaseSnap, err := s.verifyPayment(ctx, req, order)
	if err != nil {
		s.metrics.Fulfillments.WithLabelValues(string(req.Provider), "unconfirmed").Inc()
		return nil, err
	}
	if buyerEmail == "" {
		s.metrics.Fulfillments.WithLabelValues(string(req.Provider), "error").Inc()
		return nil, apperrors.ErrBuyerEmailMissing
	}

	var qualifying []domain.CartItem
	for _, item := range order.Cart.Items {
		if item.NeedsKey() {
			qualifying = append(qualifying, item)
		}
	}

	if len(qualifying) == 0 {
		if err := s.orders.SetOrderFulfilled(ctx, order.Provider, order.ProviderSessionID, store.FulfillUpdate{
			BuyerEmail:     buyerEmail,
			KeysCount:      0,
			StripeSession:  stripeSnap,
			CoinbaseCharge: coinbaseSnap,
		}); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("persist zero-key fulfillment: %w", err)
		}
		logger.InfoContext(ctx, "order fulfilled with zero keys")
		order.Status = domain.OrderStatusFulfilled
		order.BuyerEmail = buyerEmail
		return s.completeZeroKey(ctx, order, logger)
	}

	issued, rows, err := s.issueKeys(ctx, req.SessionID, qualifying)
	if err != nil {
		s.metrics.Fulfillments.WithLabelValues(string(req.Provider), "error").Inc()
		return nil, err
	}

	// Key rows must be durable before the order is marked fulfilled, so a
	// stored bundle always has matching hash rows.
	if err := s.licenseKeys.InsertLicenseKeys(ctx, rows); err != nil {
		s.metrics.Fulfillments.WithLabelValues(string(req.Provider), "error").Inc()
		return nil, fmt.Errorf("insert license keys: %w", err)
	}

	sealed, err := s.cipher.EncryptBundle(domain.KeyBundle{Keys: issued})
	if err != nil {
		s.metrics.Fulfillments.WithLabelValues(string(req.Provider), "error").Inc()
		return nil, fmt.Errorf("encrypt key bundle: %w", err)
	}

	err = s.orders.SetOrderFulfilled(ctx, order.Provider, order.ProviderSessionID, store.FulfillUpdate{
		BuyerEmail:     buyerEmail,
		KeysEncrypted:  sealed,
		KeysCount:      len(issued),
		StripeSession:  stripeSnap,
		CoinbaseCharge: coinbaseSnap,
	})
	if errors.Is(err, store.ErrNotFound) {
		// A concurrent fulfillment won the write-once race. Its bundle is
		// authoritative; the keys minted here are discarded unused.
		logger.WarnContext(ctx, "lost fulfillment race, using stored bundle")
		winner, err := s.orders.GetOrderBySession(ctx, order.Provider, order.ProviderSessionID)
		if err != nil {
			return nil, fmt.Errorf("reload order after lost race: %w", err)
		}
		return s.completeFromExistingBundle(ctx, winner, req, logger)
	}
	if err != nil {
		s.metrics.Fulfillments.WithLabelValues(string(req.Provider), "error").Inc()
		return nil, fmt.Errorf("persist fulfillment: %w", err)
	}

	s.metrics.Fulfillments.WithLabelValues(string(req.Provider), "fulfilled").Inc()
	s.metrics.KeysIssued.Add(float64(len(issued)))
	infrastructure.AddSpanEvent(ctx, "order fulfilled", map[string]interface{}{
		"provider":  string(req.Provider),
		"key_count": len(issued),
	})
	logger.InfoContext(ctx, "order fulfilled", "key_count", len(issued))

	claimToken, err := s.ensureClaimToken(ctx, order)
	if err != nil {
		return nil, err
	}

	emailSent, emailErr := s.sendKeys(ctx, order, buyerEmail, issued, claimToken, logger)

	return &domain.FulfillmentResult{
		OK:         true,
		BuyerEmail: buyerEmail,
		EmailSent:  emailSent,
		EmailError: emailErr,
		KeyCount:   len(issued),
		ClaimToken: claimToken,
		Keys:       issued,
	}, nil
}

func (s *FulfillmentService) loadOrCreateOrder(ctx context.Context, req FulfillRequest, logger *slog.Logger) (*domain.Order, error) {
	order, err := s.orders.GetOrderBySession(ctx, req.Provider, req.SessionID)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load order: %w", err)
	}

	if req.FromWebhook {
		// Checkout must have stored the order before payment completed.
		return nil, fmt.Errorf("%w: no order for webhook session", apperrors.ErrOrderDataMissing)
	}
	if req.BuyerEmail == "" || req.Cart == nil || len(req.Cart.Items) == 0 {
		return nil, apperrors.ErrOrderDataMissing
	}

	logger.InfoContext(ctx, "creating order from recovery data", "items", len(req.Cart.Items))
	return s.orders.CreateOrder(ctx, &domain.Order{
		Provider:          req.Provider,
		ProviderSessionID: req.SessionID,
		BuyerEmail:        req.BuyerEmail,
		Cart:              *req.Cart,
		Status:            domain.OrderStatusCreated,
	})
}

// verifyPayment confirms the payment with the provider and returns the
// buyer email plus the audit snapshot for the order row.
func (s *FulfillmentService) verifyPayment(ctx context.Context, req FulfillRequest, order *domain.Order) (string, map[string]interface{}, map[string]interface{}, error) {
	buyerEmail := order.BuyerEmail
	if buyerEmail == "" {
		buyerEmail = req.BuyerEmail
	}

	switch req.Provider {
	case domain.ProviderStripe:
		v, err := s.stripe.VerifySession(ctx, req.SessionID)
		if err != nil {
			return "", nil, nil, fmt.Errorf("stripe verification: %w", err)
		}
		if !v.Paid {
			return "", nil, nil, fmt.Errorf("%w: stripe session status %s", apperrors.ErrPaymentNotConfirmed, v.Status)
		}
		if buyerEmail == "" {
			buyerEmail = v.BuyerEmail
		}
		return buyerEmail, v.Snapshot, nil, nil

	case domain.ProviderCoinbase:
		charge, err := s.charges.GetCharge(ctx, req.SessionID)
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, nil, fmt.Errorf("%w: charge status PENDING", apperrors.ErrPaymentNotConfirmed)
		}
		if err != nil {
			return "", nil, nil, fmt.Errorf("load charge status: %w", err)
		}
		if charge.Status != domain.ChargeStatusConfirmed {
			return "", nil, nil, fmt.Errorf("%w: charge status %s", apperrors.ErrPaymentNotConfirmed, charge.Status)
		}
		return buyerEmail, nil, charge.Raw, nil
	}
	return "", nil, nil, fmt.Errorf("unsupported provider %q", req.Provider)
}

// issueKeys mints one key per unit of quantity for each qualifying line.
func (s *FulfillmentService) issueKeys(ctx context.Context, sessionID string, items []domain.CartItem) ([]domain.IssuedKey, []domain.LicenseKey, error) {
	productIDs := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item.ProductID != "" && !seen[item.ProductID] {
			seen[item.ProductID] = true
			productIDs = append(productIDs, item.ProductID)
		}
	}

	prefixes, err := s.orders.ProductKeyPrefixes(ctx, productIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("load key prefixes: %w", err)
	}

	var (
		issued []domain.IssuedKey
		rows   []domain.LicenseKey
	)
	for _, item := range items {
		prefix := keys.NormalizePrefix(prefixes[item.ProductID])
		for i := 0; i < item.Quantity(); i++ {
			key, err := keys.Make(prefix)
			if err != nil {
				return nil, nil, fmt.Errorf("mint key: %w", err)
			}
			issued = append(issued, domain.IssuedKey{
				Key:              key,
				ProductID:        item.ProductID,
				ProductVariantID: item.VariantID,
			})
			rows = append(rows, domain.LicenseKey{
				KeyHash:          keys.Hash(s.hashSecret, key),
				Status:           domain.LicenseKeyStatusIssued,
				IssuedForSession: sessionID,
				ProductID:        item.ProductID,
				ProductVariantID: item.VariantID,
			})
		}
	}
	return issued, rows, nil
}

// completeFromExistingBundle handles re-entrant fulfillment: decrypt the
// stored bundle, make sure a claim token exists, and retry email delivery
// if it never succeeded.
func (s *FulfillmentService) completeFromExistingBundle(ctx context.Context, order *domain.Order, req FulfillRequest, logger *slog.Logger) (*domain.FulfillmentResult, error) {
	bundle, err := s.cipher.DecryptBundle(order.KeysEncrypted)
	if err != nil {
		logger.ErrorContext(ctx, "stored bundle failed to decrypt", "error", err)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrBundleCorrupt, err)
	}

	s.metrics.Fulfillments.WithLabelValues(string(order.Provider), "reentry").Inc()

	buyerEmail := order.BuyerEmail
	if buyerEmail == "" {
		buyerEmail = req.BuyerEmail
	}

	claimToken, err := s.ensureClaimToken(ctx, order)
	if err != nil {
		return nil, err
	}

	emailSent := order.EmailedAt != nil
	emailErr := ""
	if !emailSent && buyerEmail != "" && len(bundle.Keys) > 0 {
		emailSent, emailErr = s.sendKeys(ctx, order, buyerEmail, bundle.Keys, claimToken, logger)
	}

	return &domain.FulfillmentResult{
		OK:         true,
		BuyerEmail: buyerEmail,
		EmailSent:  emailSent,
		EmailError: emailErr,
		KeyCount:   len(bundle.Keys),
		ClaimToken: claimToken,
		Keys:       bundle.Keys,
	}, nil
}

func (s *FulfillmentService) completeZeroKey(ctx context.Context, order *domain.Order, logger *slog.Logger) (*domain.FulfillmentResult, error) {
	claimToken, err := s.ensureClaimToken(ctx, order)
	if err != nil {
		return nil, err
	}
	s.metrics.Fulfillments.WithLabelValues(string(order.Provider), "zero_key").Inc()
	return &domain.FulfillmentResult{
		OK:         true,
		BuyerEmail: order.BuyerEmail,
		EmailSent:  false,
		KeyCount:   0,
		ClaimToken: claimToken,
	}, nil
}

// ensureClaimToken reuses the session's live token or mints a fresh one.
func (s *FulfillmentService) ensureClaimToken(ctx context.Context, order *domain.Order) (string, error) {
	now := s.now()

	existing, err := s.claims.FindLiveClaimTokenBySession(ctx, order.Provider, order.ProviderSessionID, now)
	if err == nil {
		return existing.Token, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("look up claim token: %w", err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate claim token: %w", err)
	}
	token := domain.ClaimTokenPrefix + base64.RawURLEncoding.EncodeToString(raw)

	if err := s.claims.CreateClaimToken(ctx, &domain.ClaimToken{
		Token:             token,
		Provider:          order.Provider,
		ProviderSessionID: order.ProviderSessionID,
		OrderID:           order.ID,
		ExpiresAt:         now.Add(s.claimTTL),
	}); err != nil {
		return "", fmt.Errorf("store claim token: %w", err)
	}
	return token, nil
}

// ClaimURL builds the link embedded in delivery emails.
func (s *FulfillmentService) ClaimURL(token string) string {
	return s.baseURL + "/success?claim=" + url.QueryEscape(token)
}

// sendKeys attempts the delivery email. Failure is reported, never fatal.
func (s *FulfillmentService) sendKeys(ctx context.Context, order *domain.Order, buyerEmail string, issued []domain.IssuedKey, claimToken string, logger *slog.Logger) (bool, string) {
	plain := make([]string, len(issued))
	for i, k := range issued {
		plain[i] = k.Key
	}

	if err := s.sender.Send(ctx, buyerEmail, plain, s.ClaimURL(claimToken)); err != nil {
		logger.WarnContext(ctx, "delivery email failed", "error", err)
		return false, err.Error()
	}

	if err := s.orders.SetOrderEmailed(ctx, order.Provider, order.ProviderSessionID, s.now()); err != nil {
		logger.WarnContext(ctx, "failed to record emailed_at", "error", err)
	}
	return true, ""
}
