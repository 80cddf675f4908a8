package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/stretchr/testify/mock"

	"rosina/internal/services"
	"rosina/pkg/contracts/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type mockFulfiller struct{ mock.Mock }

func (m *mockFulfiller) Fulfill(ctx context.Context, req services.FulfillRequest) (*domain.FulfillmentResult, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*domain.FulfillmentResult), args.Error(1)
	}
	return nil, args.Error(1)
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

type mockClaimResolver struct{ mock.Mock }

func (m *mockClaimResolver) Claim(ctx context.Context, token string) (*services.ClaimResult, error) {
	args := m.Called(ctx, token)
	if r := args.Get(0); r != nil {
		return r.(*services.ClaimResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockKeyRedeemer struct{ mock.Mock }

func (m *mockKeyRedeemer) Redeem(ctx context.Context, accessToken, rawKey string) (*domain.LicenseKey, error) {
	args := m.Called(ctx, accessToken, rawKey)
	if k := args.Get(0); k != nil {
		return k.(*domain.LicenseKey), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockHealthChecker struct{ mock.Mock }

func (m *mockHealthChecker) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
