package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"rosina/pkg/contracts/domain"
)

// CoinbaseSignatureHeader carries the hex HMAC of the raw webhook body.
const CoinbaseSignatureHeader = "X-CC-Webhook-Signature"

// CoinbaseVerifier authenticates Coinbase Commerce webhook payloads.
// Coinbase signs the raw body with HMAC-SHA256 and sends the hex digest,
// with no timestamp component.
type CoinbaseVerifier struct {
	secret []byte
}

// NewCoinbaseVerifier creates a verifier for the shared webhook secret.
func NewCoinbaseVerifier(secret string) *CoinbaseVerifier {
	return &CoinbaseVerifier{secret: []byte(secret)}
}

// Verify checks the signature header against the raw body in constant time.
func (v *CoinbaseVerifier) Verify(payload []byte, sigHeader string) bool {
	if sigHeader == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(sigHeader))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

// CoinbaseEvent is the subset of a Commerce webhook event the service
// acts on. Raw retains the full payload for the charge audit row.
type CoinbaseEvent struct {
	EventID  string
	Type     string
	ChargeID string
	Raw      json.RawMessage
}

// ParseCoinbaseEvent decodes a verified webhook body. When the envelope
// carries no event id, a deterministic (charge, type) key stands in so the
// idempotency ledger still catches redeliveries.
func ParseCoinbaseEvent(payload []byte) (CoinbaseEvent, error) {
	var body struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return CoinbaseEvent{}, fmt.Errorf("decode coinbase event: %w", err)
	}
	if body.Data.ID == "" {
		return CoinbaseEvent{}, fmt.Errorf("coinbase event has no charge id")
	}
	eventID := body.ID
	if eventID == "" {
		eventID = body.Data.ID + ":" + body.Type
	}
	return CoinbaseEvent{
		EventID:  eventID,
		Type:     body.Type,
		ChargeID: body.Data.ID,
		Raw:      json.RawMessage(append([]byte(nil), payload...)),
	}, nil
}

// StatusFromEvent derives the charge status from the event type, falling
// back to the last timeline entry when the type is not conclusive.
func StatusFromEvent(event CoinbaseEvent) domain.ChargeStatus {
	t := strings.ToLower(event.Type)
	switch {
	case strings.Contains(t, "confirmed"):
		return domain.ChargeStatusConfirmed
	case strings.Contains(t, "failed"):
		return domain.ChargeStatusFailed
	case strings.Contains(t, "expired"):
		return domain.ChargeStatusExpired
	case strings.Contains(t, "pending"):
		return domain.ChargeStatusPending
	}

	var body struct {
		Data struct {
			Timeline []struct {
				Status string `json:"status"`
			} `json:"timeline"`
		} `json:"data"`
	}
	if err := json.Unmarshal(event.Raw, &body); err == nil && len(body.Data.Timeline) > 0 {
		last := body.Data.Timeline[len(body.Data.Timeline)-1].Status
		if last != "" {
			return domain.ChargeStatus(strings.ToUpper(last))
		}
	}
	return domain.ChargeStatusPending
}
