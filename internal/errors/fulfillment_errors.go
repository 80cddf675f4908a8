package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/render"
)

// Fulfillment-domain sentinel errors. Services return these; the transport
// layer maps them onto RFC 7807 responses.
var (
	// ErrPaymentNotConfirmed means the provider reports the session/charge
	// as unpaid. No order mutation happens.
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")

	// ErrClaimInvalid covers malformed, consumed, and expired claim tokens.
	// Deliberately indistinguishable to callers.
	ErrClaimInvalid = errors.New("invalid or expired claim token")

	// ErrClaimNotReady means the claim token is valid but the order has no
	// encrypted bundle yet. Clients should retry with backoff.
	ErrClaimNotReady = errors.New("keys are being prepared")

	// ErrKeyNotRedeemable covers unknown keys and keys already redeemed.
	ErrKeyNotRedeemable = errors.New("key invalid or already used")

	// ErrBuyerEmailMissing means fulfillment could not determine a buyer
	// email from the order or the provider.
	ErrBuyerEmailMissing = errors.New("buyer email missing")

	// ErrOrderDataMissing means no order row exists and the caller did not
	// supply enough data to reconstruct one.
	ErrOrderDataMissing = errors.New("order data missing")

	// ErrBundleCorrupt means the encrypted key bundle failed to decrypt.
	// Treated as a downstream failure, never as "no keys".
	ErrBundleCorrupt = errors.New("encrypted key bundle unreadable")

	// ErrRateLimited is returned by claim throttling.
	ErrRateLimited = errors.New("rate limited")
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Additional fields for extensibility
	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON custom marshaler to include extensions
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status

	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	for k, v := range pd.Extensions {
		data[k] = v
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// MapFulfillmentError converts a fulfillment-domain error into an RFC 7807
// problem, keeping responses deliberately generic so callers cannot probe
// for order or key existence.
func MapFulfillmentError(err error, instance, traceID string) *ProblemDetails {
	var problem *ProblemDetails

	switch {
	case errors.Is(err, ErrPaymentNotConfirmed):
		problem = NewProblemDetails(
			http.StatusConflict,
			TypePaymentUnconfirmed,
			"Payment Not Confirmed",
			"The payment for this session has not been confirmed by the provider.",
			instance,
		)
	case errors.Is(err, ErrClaimInvalid):
		problem = NewProblemDetails(
			http.StatusNotFound,
			TypeClaimInvalid,
			"Invalid Claim Token",
			"Invalid or expired claim token.",
			instance,
		)
	case errors.Is(err, ErrClaimNotReady):
		problem = NewProblemDetails(
			http.StatusConflict,
			TypeClaimPending,
			"Keys Being Prepared",
			"Your items are being prepared. Retry shortly.",
			instance,
		).WithExtension("retry_after", 3)
	case errors.Is(err, ErrKeyNotRedeemable):
		problem = NewProblemDetails(
			http.StatusBadRequest,
			TypeKeyNotRedeemable,
			"Key Invalid Or Already Used",
			"The supplied license key is invalid or has already been redeemed.",
			instance,
		)
	case errors.Is(err, ErrRateLimited):
		problem = NewProblemDetails(
			http.StatusTooManyRequests,
			TypeRateLimit,
			"Too Many Requests",
			"Too many attempts. Please wait before trying again.",
			instance,
		).WithExtension("retry_after", 60)
	case errors.Is(err, ErrOrderDataMissing), errors.Is(err, ErrBuyerEmailMissing):
		problem = NewProblemDetails(
			http.StatusBadRequest,
			TypeValidation,
			"Order Data Missing",
			err.Error(),
			instance,
		)
	default:
		// Downstream failures, including bundle corruption, surface as a
		// generic 500 with no internal detail.
		problem = NewProblemDetails(
			http.StatusInternalServerError,
			TypeInternal,
			"Internal Server Error",
			"An unexpected error occurred while processing your request.",
			instance,
		)
	}

	if traceID != "" {
		problem.WithExtension("trace_id", traceID)
	}
	return problem
}
