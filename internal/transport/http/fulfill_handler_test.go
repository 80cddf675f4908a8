package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	apperrors "rosina/internal/errors"
	"rosina/internal/services"
	"rosina/pkg/contracts/domain"
)

const fulfillTestSecret = "internal-test-secret"

func postFulfill(h *FulfillHandler, secret, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/fulfill", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(FulfillSecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func TestFulfillHandlerRejectsBadSecret(t *testing.T) {
	fulfiller := &mockFulfiller{}
	h := NewFulfillHandler(fulfiller, fulfillTestSecret, testLogger())

	for _, secret := range []string{"", "wrong", fulfillTestSecret + "x"} {
		rec := postFulfill(h, secret, `{"provider":"stripe","session_id":"cs_1"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "secret %q", secret)
	}
	fulfiller.AssertNotCalled(t, "Fulfill", mock.Anything, mock.Anything)
}

func TestFulfillHandlerValidatesBody(t *testing.T) {
	fulfiller := &mockFulfiller{}
	h := NewFulfillHandler(fulfiller, fulfillTestSecret, testLogger())

	tests := []struct {
		name string
		body string
	}{
		{"unknown provider", `{"provider":"paypal","session_id":"x"}`},
		{"missing session", `{"provider":"stripe"}`},
		{"empty body", `{}`},
		{"cart line without product id", `{"provider":"stripe","session_id":"cs_1","cart":{"items":[{"id":"","qty":1}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postFulfill(h, fulfillTestSecret, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestFulfillHandlerStripeSession(t *testing.T) {
	fulfiller := &mockFulfiller{}
	h := NewFulfillHandler(fulfiller, fulfillTestSecret, testLogger())

	fulfiller.On("Fulfill", mock.Anything, services.FulfillRequest{
		Provider:  domain.ProviderStripe,
		SessionID: "cs_1",
	}).Return(&domain.FulfillmentResult{
		OK:         true,
		BuyerEmail: "buyer@example.com",
		EmailSent:  true,
		KeyCount:   2,
		ClaimToken: "claim_abc",
	}, nil)

	rec := postFulfill(h, fulfillTestSecret, `{"provider":"stripe","session_id":"cs_1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"ok": true,
		"buyer_email": "buyer@example.com",
		"email_sent": true,
		"key_count": 2,
		"claim_token": "claim_abc"
	}`, rec.Body.String())
}

func TestFulfillHandlerCoinbaseChargeID(t *testing.T) {
	fulfiller := &mockFulfiller{}
	h := NewFulfillHandler(fulfiller, fulfillTestSecret, testLogger())

	fulfiller.On("Fulfill", mock.Anything, services.FulfillRequest{
		Provider:  domain.ProviderCoinbase,
		SessionID: "charge-1",
	}).Return(&domain.FulfillmentResult{OK: true, BuyerEmail: "b@example.com", ClaimToken: "claim_z"}, nil)

	rec := postFulfill(h, fulfillTestSecret, `{"provider":"coinbase","charge_id":"charge-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	fulfiller.AssertExpectations(t)
}

func TestFulfillHandlerPaymentNotConfirmed(t *testing.T) {
	fulfiller := &mockFulfiller{}
	h := NewFulfillHandler(fulfiller, fulfillTestSecret, testLogger())

	fulfiller.On("Fulfill", mock.Anything, mock.Anything).
		Return(nil, apperrors.ErrPaymentNotConfirmed)

	rec := postFulfill(h, fulfillTestSecret, `{"provider":"stripe","session_id":"cs_1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Payment Not Confirmed")
}

func TestFulfillHandlerForwardsRecoveryData(t *testing.T) {
	fulfiller := &mockFulfiller{}
	h := NewFulfillHandler(fulfiller, fulfillTestSecret, testLogger())

	fulfiller.On("Fulfill", mock.Anything, mock.MatchedBy(func(req services.FulfillRequest) bool {
		return req.BuyerEmail == "buyer@example.com" &&
			req.Cart != nil && len(req.Cart.Items) == 1 &&
			req.Cart.Items[0].ProductID == "prod_A"
	})).Return(&domain.FulfillmentResult{OK: true}, nil)

	rec := postFulfill(h, fulfillTestSecret, `{
		"provider": "stripe",
		"session_id": "cs_1",
		"email": "buyer@example.com",
		"cart": {"items":[{"id":"prod_A","qty":1,"duration_days":7}]}
	}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	fulfiller.AssertExpectations(t)
}
