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

func postClaim(h *ClaimHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/claim", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func TestClaimHandlerRequiresToken(t *testing.T) {
	resolver := &mockClaimResolver{}
	h := NewClaimHandler(resolver, testLogger())

	rec := postClaim(h, `{"claim":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resolver.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything)
}

func TestClaimHandlerSuccess(t *testing.T) {
	resolver := &mockClaimResolver{}
	h := NewClaimHandler(resolver, testLogger())

	key := "acme-K1"
	resolver.On("Claim", mock.Anything, "claim_tok1").Return(&services.ClaimResult{
		Provider: domain.ProviderStripe,
		Keys:     []domain.IssuedKey{{Key: key, ProductID: "prod_A"}},
		Items: []domain.PurchasedItem{{
			ProductID: "prod_A",
			Quantity:  1,
			Key:       &key,
		}},
	}, nil)

	rec := postClaim(h, `{"claim":"claim_tok1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"ok":true`)
	assert.Contains(t, body, `"provider":"stripe"`)
	assert.Contains(t, body, `"acme-K1"`)
}

func TestClaimHandlerInvalidToken(t *testing.T) {
	resolver := &mockClaimResolver{}
	h := NewClaimHandler(resolver, testLogger())

	resolver.On("Claim", mock.Anything, "claim_spent").Return(nil, apperrors.ErrClaimInvalid)

	rec := postClaim(h, `{"claim":"claim_spent"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid Claim Token")
}

func TestClaimHandlerPending(t *testing.T) {
	resolver := &mockClaimResolver{}
	h := NewClaimHandler(resolver, testLogger())

	resolver.On("Claim", mock.Anything, "claim_tok1").Return(nil, apperrors.ErrClaimNotReady)

	rec := postClaim(h, `{"claim":"claim_tok1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "retry_after")
}

func TestClaimHandlerWhitespaceTrimmed(t *testing.T) {
	resolver := &mockClaimResolver{}
	h := NewClaimHandler(resolver, testLogger())

	resolver.On("Claim", mock.Anything, "claim_tok1").Return(&services.ClaimResult{
		Provider: domain.ProviderCoinbase,
		Keys:     []domain.IssuedKey{},
		Items:    []domain.PurchasedItem{},
	}, nil)

	rec := postClaim(h, `{"claim":"  claim_tok1  "}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	resolver.AssertCalled(t, "Claim", mock.Anything, "claim_tok1")
}
