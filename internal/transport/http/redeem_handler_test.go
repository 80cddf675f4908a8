package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"rosina/internal/auth"
	apperrors "rosina/internal/errors"
	"rosina/pkg/contracts/domain"
)

func postRedeem(h *RedeemHandler, authHeader, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/redeem", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func TestRedeemHandlerRequiresBearerToken(t *testing.T) {
	redeemer := &mockKeyRedeemer{}
	h := NewRedeemHandler(redeemer, testLogger())

	for _, header := range []string{"", "Basic abc", "Bearer"} {
		rec := postRedeem(h, header, `{"key":"acme-AbC123xyzQ"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
	redeemer.AssertNotCalled(t, "Redeem", mock.Anything, mock.Anything, mock.Anything)
}

func TestRedeemHandlerRequiresKey(t *testing.T) {
	redeemer := &mockKeyRedeemer{}
	h := NewRedeemHandler(redeemer, testLogger())

	rec := postRedeem(h, "Bearer tok", `{"key":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRedeemHandlerSuccess(t *testing.T) {
	redeemer := &mockKeyRedeemer{}
	h := NewRedeemHandler(redeemer, testLogger())

	redeemer.On("Redeem", mock.Anything, "tok-123", "acme-AbC123xyzQ").Return(&domain.LicenseKey{
		KeyHash:          "hash",
		Status:           domain.LicenseKeyStatusRedeemed,
		ProductID:        "prod_A",
		ProductVariantID: "var_1",
	}, nil)

	rec := postRedeem(h, "Bearer tok-123", `{"key":"acme-AbC123xyzQ"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"product_id":"prod_A","product_variant_id":"var_1"}`, rec.Body.String())
}

func TestRedeemHandlerInvalidSession(t *testing.T) {
	redeemer := &mockKeyRedeemer{}
	h := NewRedeemHandler(redeemer, testLogger())

	redeemer.On("Redeem", mock.Anything, "expired", mock.Anything).Return(nil, auth.ErrInvalidToken)

	rec := postRedeem(h, "Bearer expired", `{"key":"acme-AbC123xyzQ"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRedeemHandlerKeyNotRedeemable(t *testing.T) {
	redeemer := &mockKeyRedeemer{}
	h := NewRedeemHandler(redeemer, testLogger())

	redeemer.On("Redeem", mock.Anything, "tok-123", mock.Anything).Return(nil, apperrors.ErrKeyNotRedeemable)

	rec := postRedeem(h, "Bearer tok-123", `{"key":"acme-AbC123xyzQ"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Key Invalid Or Already Used")
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer ", ""},
		{"", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		assert.Equal(t, tt.want, bearerToken(req), "header %q", tt.header)
	}
}
