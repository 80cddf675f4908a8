package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/stretchr/testify/mock"

	"rosina/internal/payments"
	"rosina/internal/store"
	"rosina/pkg/contracts/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockOrderStore struct{ mock.Mock }

func (m *mockOrderStore) GetOrderBySession(ctx context.Context, provider domain.Provider, sessionID string) (*domain.Order, error) {
	args := m.Called(ctx, provider, sessionID)
	if o := args.Get(0); o != nil {
		return o.(*domain.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOrderStore) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	args := m.Called(ctx, id)
	if o := args.Get(0); o != nil {
		return o.(*domain.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOrderStore) CreateOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	args := m.Called(ctx, order)
	if o := args.Get(0); o != nil {
		return o.(*domain.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOrderStore) SetOrderFulfilled(ctx context.Context, provider domain.Provider, sessionID string, upd store.FulfillUpdate) error {
	return m.Called(ctx, provider, sessionID, upd).Error(0)
}

func (m *mockOrderStore) SetOrderEmailed(ctx context.Context, provider domain.Provider, sessionID string, at time.Time) error {
	return m.Called(ctx, provider, sessionID, at).Error(0)
}

func (m *mockOrderStore) ProductKeyPrefixes(ctx context.Context, productIDs []string) (map[string]string, error) {
	args := m.Called(ctx, productIDs)
	if p := args.Get(0); p != nil {
		return p.(map[string]string), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockLicenseKeyStore struct{ mock.Mock }

func (m *mockLicenseKeyStore) InsertLicenseKeys(ctx context.Context, keys []domain.LicenseKey) error {
	return m.Called(ctx, keys).Error(0)
}

func (m *mockLicenseKeyStore) RedeemLicenseKey(ctx context.Context, keyHash, userID string) (*domain.LicenseKey, error) {
	args := m.Called(ctx, keyHash, userID)
	if k := args.Get(0); k != nil {
		return k.(*domain.LicenseKey), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockClaimTokenStore struct{ mock.Mock }

func (m *mockClaimTokenStore) CreateClaimToken(ctx context.Context, t *domain.ClaimToken) error {
	return m.Called(ctx, t).Error(0)
}

func (m *mockClaimTokenStore) GetLiveClaimToken(ctx context.Context, token string, now time.Time) (*domain.ClaimToken, error) {
	args := m.Called(ctx, token, now)
	if t := args.Get(0); t != nil {
		return t.(*domain.ClaimToken), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClaimTokenStore) FindLiveClaimTokenBySession(ctx context.Context, provider domain.Provider, sessionID string, now time.Time) (*domain.ClaimToken, error) {
	args := m.Called(ctx, provider, sessionID, now)
	if t := args.Get(0); t != nil {
		return t.(*domain.ClaimToken), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClaimTokenStore) ConsumeClaimToken(ctx context.Context, token string, now time.Time) error {
	return m.Called(ctx, token, now).Error(0)
}

func (m *mockClaimTokenStore) DeleteExpiredClaimTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type mockEventStore struct{ mock.Mock }

func (m *mockEventStore) RecordEvent(ctx context.Context, provider domain.Provider, eventID string) (bool, error) {
	args := m.Called(ctx, provider, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *mockEventStore) DeleteEvent(ctx context.Context, provider domain.Provider, eventID string) error {
	return m.Called(ctx, provider, eventID).Error(0)
}

type mockChargeStore struct{ mock.Mock }

func (m *mockChargeStore) UpsertCharge(ctx context.Context, id string, status domain.ChargeStatus, raw json.RawMessage) error {
	return m.Called(ctx, id, status, raw).Error(0)
}

func (m *mockChargeStore) GetCharge(ctx context.Context, id string) (*domain.Charge, error) {
	args := m.Called(ctx, id)
	if c := args.Get(0); c != nil {
		return c.(*domain.Charge), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockSessionVerifier struct{ mock.Mock }

func (m *mockSessionVerifier) VerifySession(ctx context.Context, sessionID string) (payments.SessionVerification, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(payments.SessionVerification), args.Error(1)
}

type mockSender struct{ mock.Mock }

func (m *mockSender) Send(ctx context.Context, to string, keys []string, claimURL string) error {
	return m.Called(ctx, to, keys, claimURL).Error(0)
}

type mockFulfiller struct{ mock.Mock }

func (m *mockFulfiller) Fulfill(ctx context.Context, req FulfillRequest) (*domain.FulfillmentResult, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*domain.FulfillmentResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockVerifier struct{ mock.Mock }

func (m *mockVerifier) VerifyToken(ctx context.Context, accessToken string) (string, error) {
	args := m.Called(ctx, accessToken)
	return args.String(0), args.Error(1)
}
