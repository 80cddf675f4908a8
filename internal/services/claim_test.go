package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "rosina/internal/errors"
	"rosina/internal/infrastructure"
	"rosina/internal/keys"
	"rosina/internal/store"
	"rosina/pkg/contracts/domain"
)

type claimFixture struct {
	claims    *mockClaimTokenStore
	orders    *mockOrderStore
	fulfiller *mockFulfiller
	cipher    *keys.Cipher
	svc       *ClaimService
}

func newClaimFixture(t *testing.T) *claimFixture {
	t.Helper()

	cipher, err := keys.NewCipher("test-delivery-secret")
	require.NoError(t, err)

	f := &claimFixture{
		claims:    &mockClaimTokenStore{},
		orders:    &mockOrderStore{},
		fulfiller: &mockFulfiller{},
		cipher:    cipher,
	}
	f.svc = NewClaimService(f.claims, f.orders, cipher, f.fulfiller,
		infrastructure.NewMetrics(), testLogger())
	return f
}

func liveClaim() *domain.ClaimToken {
	return &domain.ClaimToken{
		Token:             "claim_tok1",
		Provider:          domain.ProviderStripe,
		ProviderSessionID: "cs_test_1",
		OrderID:           "order-1",
		ExpiresAt:         time.Now().Add(20 * time.Minute),
	}
}

func fulfilledOrder(t *testing.T, cipher *keys.Cipher, issued []domain.IssuedKey, items ...domain.CartItem) *domain.Order {
	t.Helper()
	sealed, err := cipher.EncryptBundle(domain.KeyBundle{Keys: issued})
	require.NoError(t, err)

	fulfilledAt := time.Now()
	return &domain.Order{
		ID:                "order-1",
		Provider:          domain.ProviderStripe,
		ProviderSessionID: "cs_test_1",
		BuyerEmail:        "buyer@example.com",
		Cart:              domain.Cart{Items: items},
		Status:            domain.OrderStatusFulfilled,
		KeysEncrypted:     sealed,
		KeysCount:         len(issued),
		CreatedAt:         fulfilledAt.Add(-time.Minute),
		FulfilledAt:       &fulfilledAt,
	}
}

func TestClaimRejectsMalformedToken(t *testing.T) {
	f := newClaimFixture(t)
	for _, token := range []string{"", "claim_", "nope", "CLAIM_abc"} {
		_, err := f.svc.Claim(context.Background(), token)
		assert.ErrorIs(t, err, apperrors.ErrClaimInvalid, "token %q", token)
	}
	f.claims.AssertNotCalled(t, "GetLiveClaimToken", mock.Anything, mock.Anything, mock.Anything)
}

func TestClaimUnknownTokenIsInvalid(t *testing.T) {
	f := newClaimFixture(t)
	f.claims.On("GetLiveClaimToken", mock.Anything, "claim_missing", mock.Anything).
		Return(nil, store.ErrNotFound)

	_, err := f.svc.Claim(context.Background(), "claim_missing")
	assert.ErrorIs(t, err, apperrors.ErrClaimInvalid)
}

func TestClaimSuccessConsumesTokenAndReturnsItems(t *testing.T) {
	f := newClaimFixture(t)

	issued := []domain.IssuedKey{
		{Key: "acme-K1", ProductID: "prod_A"},
		{Key: "acme-K2", ProductID: "prod_A"},
	}
	order := fulfilledOrder(t, f.cipher, issued,
		domain.CartItem{ProductID: "prod_A", Qty: 2, DurationDays: 7, Title: "Acme Pro"})

	f.claims.On("GetLiveClaimToken", mock.Anything, "claim_tok1", mock.Anything).Return(liveClaim(), nil)
	f.orders.On("GetOrderByID", mock.Anything, "order-1").Return(order, nil)
	f.claims.On("ConsumeClaimToken", mock.Anything, "claim_tok1", mock.Anything).Return(nil)

	res, err := f.svc.Claim(context.Background(), "claim_tok1")
	require.NoError(t, err)

	assert.Equal(t, domain.ProviderStripe, res.Provider)
	assert.Equal(t, issued, res.Keys)
	require.Len(t, res.Items, 2)
	for _, item := range res.Items {
		assert.Equal(t, "prod_A", item.ProductID)
		assert.Equal(t, "Acme Pro", item.Title)
		assert.Equal(t, 1, item.Quantity)
		assert.Equal(t, 7.0, item.DurationDays)
		require.NotNil(t, item.Key)
		require.NotNil(t, item.ExpiresAt)
		assert.WithinDuration(t, order.FulfilledAt.Add(7*24*time.Hour), *item.ExpiresAt, time.Second)
	}

	f.fulfiller.AssertNotCalled(t, "Fulfill", mock.Anything, mock.Anything)
}

func TestClaimConsumeRaceLoserGetsInvalid(t *testing.T) {
	f := newClaimFixture(t)
	order := fulfilledOrder(t, f.cipher,
		[]domain.IssuedKey{{Key: "acme-K1", ProductID: "prod_A"}},
		domain.CartItem{ProductID: "prod_A", Qty: 1, DurationDays: 7})

	f.claims.On("GetLiveClaimToken", mock.Anything, "claim_tok1", mock.Anything).Return(liveClaim(), nil)
	f.orders.On("GetOrderByID", mock.Anything, "order-1").Return(order, nil)
	f.claims.On("ConsumeClaimToken", mock.Anything, "claim_tok1", mock.Anything).Return(store.ErrNotFound)

	_, err := f.svc.Claim(context.Background(), "claim_tok1")
	assert.ErrorIs(t, err, apperrors.ErrClaimInvalid)
}

func TestClaimPendingTriggersFulfillmentOnce(t *testing.T) {
	f := newClaimFixture(t)
	unfulfilled := &domain.Order{
		ID:                "order-1",
		Provider:          domain.ProviderStripe,
		ProviderSessionID: "cs_test_1",
		Cart:              domain.Cart{Items: []domain.CartItem{{ProductID: "prod_A", Qty: 1, DurationDays: 7}}},
		Status:            domain.OrderStatusCreated,
		CreatedAt:         time.Now(),
	}

	f.claims.On("GetLiveClaimToken", mock.Anything, "claim_tok1", mock.Anything).Return(liveClaim(), nil)
	f.orders.On("GetOrderByID", mock.Anything, "order-1").Return(unfulfilled, nil)
	f.fulfiller.On("Fulfill", mock.Anything, FulfillRequest{
		Provider:  domain.ProviderStripe,
		SessionID: "cs_test_1",
	}).Return(nil, apperrors.ErrPaymentNotConfirmed).Once()

	_, err := f.svc.Claim(context.Background(), "claim_tok1")
	assert.ErrorIs(t, err, apperrors.ErrClaimNotReady)

	// The token survives a pending response.
	f.claims.AssertNotCalled(t, "ConsumeClaimToken", mock.Anything, mock.Anything, mock.Anything)
	f.fulfiller.AssertExpectations(t)
}

func TestClaimPendingResolvedByInternalFulfillment(t *testing.T) {
	f := newClaimFixture(t)
	unfulfilled := &domain.Order{
		ID:                "order-1",
		Provider:          domain.ProviderStripe,
		ProviderSessionID: "cs_test_1",
		Cart:              domain.Cart{Items: []domain.CartItem{{ProductID: "prod_A", Qty: 1, DurationDays: 7}}},
		Status:            domain.OrderStatusCreated,
		CreatedAt:         time.Now(),
	}
	ready := fulfilledOrder(t, f.cipher,
		[]domain.IssuedKey{{Key: "acme-K1", ProductID: "prod_A"}},
		domain.CartItem{ProductID: "prod_A", Qty: 1, DurationDays: 7})

	f.claims.On("GetLiveClaimToken", mock.Anything, "claim_tok1", mock.Anything).Return(liveClaim(), nil)
	f.orders.On("GetOrderByID", mock.Anything, "order-1").Return(unfulfilled, nil).Once()
	f.fulfiller.On("Fulfill", mock.Anything, mock.Anything).
		Return(&domain.FulfillmentResult{OK: true, KeyCount: 1}, nil).Once()
	f.orders.On("GetOrderByID", mock.Anything, "order-1").Return(ready, nil).Once()
	f.claims.On("ConsumeClaimToken", mock.Anything, "claim_tok1", mock.Anything).Return(nil)

	res, err := f.svc.Claim(context.Background(), "claim_tok1")
	require.NoError(t, err)
	require.Len(t, res.Keys, 1)
	assert.Equal(t, "acme-K1", res.Keys[0].Key)
}

func TestClaimZeroKeyOrderBeforeRefulfillment(t *testing.T) {
	f := newClaimFixture(t)
	fulfilledAt := time.Now()
	zeroKey := &domain.Order{
		ID:                "order-1",
		Provider:          domain.ProviderStripe,
		ProviderSessionID: "cs_test_1",
		Cart:              domain.Cart{Items: []domain.CartItem{{ProductID: "prod_B", Qty: 2}}},
		Status:            domain.OrderStatusFulfilled,
		KeysCount:         0,
		CreatedAt:         fulfilledAt.Add(-time.Minute),
		FulfilledAt:       &fulfilledAt,
	}

	f.claims.On("GetLiveClaimToken", mock.Anything, "claim_tok1", mock.Anything).Return(liveClaim(), nil)
	f.orders.On("GetOrderByID", mock.Anything, "order-1").Return(zeroKey, nil)
	f.claims.On("ConsumeClaimToken", mock.Anything, "claim_tok1", mock.Anything).Return(nil)

	res, err := f.svc.Claim(context.Background(), "claim_tok1")
	require.NoError(t, err)

	assert.Empty(t, res.Keys)
	require.Len(t, res.Items, 2)
	for _, item := range res.Items {
		assert.Nil(t, item.Key)
		assert.Equal(t, "prod_B", item.ProductID)
	}
	f.fulfiller.AssertNotCalled(t, "Fulfill", mock.Anything, mock.Anything)
}

func TestBuildPurchasedItemsMatching(t *testing.T) {
	now := time.Now()
	order := &domain.Order{
		Cart: domain.Cart{Items: []domain.CartItem{
			{ProductID: "prod_A", VariantID: "var_1", Qty: 1, DurationDays: 7},
			{ProductID: "prod_A", VariantID: "var_2", Qty: 1, DurationDays: 30},
			{ProductID: "prod_C", Qty: 1},
		}},
		CreatedAt:   now,
		FulfilledAt: &now,
	}
	issued := []domain.IssuedKey{
		{Key: "K-VAR2", ProductID: "prod_A", ProductVariantID: "var_2"},
		{Key: "K-VAR1", ProductID: "prod_A", ProductVariantID: "var_1"},
		{Key: "K-ORPHAN", ProductID: "prod_Z"},
	}

	items := buildPurchasedItems(order, issued)
	require.Len(t, items, 4)

	// Exact variant matching beats list order.
	require.NotNil(t, items[0].Key)
	assert.Equal(t, "K-VAR1", *items[0].Key)
	require.NotNil(t, items[1].Key)
	assert.Equal(t, "K-VAR2", *items[1].Key)

	// Durationless line carries no key.
	assert.Nil(t, items[2].Key)

	// Leftover key is surfaced rather than dropped.
	require.NotNil(t, items[3].Key)
	assert.Equal(t, "K-ORPHAN", *items[3].Key)
	assert.Equal(t, "prod_Z", items[3].ProductID)
}

func TestBuildPurchasedItemsProductFallback(t *testing.T) {
	now := time.Now()
	order := &domain.Order{
		Cart: domain.Cart{Items: []domain.CartItem{
			{ProductID: "prod_A", VariantID: "var_1", Qty: 1, DurationDays: 7},
		}},
		CreatedAt:   now,
		FulfilledAt: &now,
	}
	// Key issued without a variant id still reaches the variant line.
	issued := []domain.IssuedKey{{Key: "K-PLAIN", ProductID: "prod_A"}}

	items := buildPurchasedItems(order, issued)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Key)
	assert.Equal(t, "K-PLAIN", *items[0].Key)
}
