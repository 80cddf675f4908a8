package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	stripeclient "github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"rosina/pkg/contracts/domain"
)

// Event types that trigger fulfillment. Everything else is acknowledged
// and dropped.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

// StripeVerifier authenticates Stripe webhook payloads against the
// endpoint signing secret.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeVerifier creates a verifier for the given webhook signing
// secret. A zero tolerance falls back to the SDK's 300 second default.
func NewStripeVerifier(secret string, tolerance time.Duration) *StripeVerifier {
	return &StripeVerifier{secret: secret, tolerance: tolerance}
}

// VerifyEvent checks the Stripe-Signature header against the raw body and
// returns the parsed event. Signatures older than the tolerance window are
// rejected.
func (v *StripeVerifier) VerifyEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("verify stripe signature: %w", err)
	}
	return event, nil
}

// FulfillmentEvent reports whether the event type should trigger fulfillment.
func FulfillmentEvent(eventType string) bool {
	return eventType == EventCheckoutCompleted || eventType == EventAsyncPaymentSucceeded
}

// SessionIDFromEvent extracts the checkout session id from the event payload.
func SessionIDFromEvent(event stripe.Event) (string, error) {
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return "", fmt.Errorf("decode event object: %w", err)
	}
	if obj.ID == "" {
		return "", fmt.Errorf("event %s has no session id", event.ID)
	}
	return obj.ID, nil
}

// SessionVerification is the result of confirming a checkout session
// directly with Stripe.
type SessionVerification struct {
	Paid       bool
	Status     string
	BuyerEmail string
	Snapshot   map[string]any
}

// StripeClient confirms payment state against the Stripe API. Fulfillment
// never trusts the webhook payload alone; the session is re-fetched with
// the secret key before any keys are issued.
type StripeClient struct {
	api    *stripeclient.API
	logger *slog.Logger
}

// NewStripeClient creates an API client bound to the account secret key.
func NewStripeClient(secretKey string, logger *slog.Logger) *StripeClient {
	api := &stripeclient.API{}
	api.Init(secretKey, nil)
	return &StripeClient{api: api, logger: logger}
}

// VerifySession fetches the checkout session and reports whether it is
// paid. A session counts as paid when payment_status is "paid" or the
// session status is "complete".
func (c *StripeClient) VerifySession(ctx context.Context, sessionID string) (SessionVerification, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := c.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return SessionVerification{}, fmt.Errorf("fetch checkout session %s: %w", sessionID, err)
	}

	paid := sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
		sess.Status == stripe.CheckoutSessionStatusComplete

	email := ""
	if sess.CustomerDetails != nil {
		email = sess.CustomerDetails.Email
	}
	if email == "" {
		email = sess.CustomerEmail
	}

	status := string(sess.PaymentStatus)
	if status == "" {
		status = string(sess.Status)
	}
	if status == "" {
		status = "pending"
	}

	return SessionVerification{
		Paid:       paid,
		Status:     status,
		BuyerEmail: email,
		Snapshot: map[string]any{
			"id":             sess.ID,
			"payment_status": string(sess.PaymentStatus),
			"status":         string(sess.Status),
			"amount_total":   sess.AmountTotal,
			"currency":       string(sess.Currency),
			"customer_email": email,
		},
	}, nil
}

// ChargeStatusForSession maps a session verification onto the charge
// status vocabulary used by the payment status endpoint.
func ChargeStatusForSession(v SessionVerification) domain.ChargeStatus {
	if v.Paid {
		return domain.ChargeStatusConfirmed
	}
	return domain.ChargeStatusPending
}
