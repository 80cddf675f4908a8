// Package auth resolves bearer tokens from the storefront's auth
// provider into user identities for key redemption.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// Verifier validates an access token and returns the user id it belongs to.
type Verifier interface {
	VerifyToken(ctx context.Context, accessToken string) (userID string, err error)
}

// ErrInvalidToken is returned when the auth provider rejects the token.
var ErrInvalidToken = fmt.Errorf("invalid access token")

// HTTPVerifier checks tokens against the auth provider's user endpoint.
// The service never mints sessions itself; redemption trusts the same
// login the storefront uses.
type HTTPVerifier struct {
	client     *resty.Client
	serviceKey string
	logger     *slog.Logger
}

// NewHTTPVerifier creates a verifier for the given auth base URL.
func NewHTTPVerifier(baseURL, serviceKey string, logger *slog.Logger) *HTTPVerifier {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second)

	return &HTTPVerifier{
		client:     client,
		serviceKey: serviceKey,
		logger:     logger,
	}
}

// VerifyToken calls GET /auth/v1/user with the caller's token. Any non-2xx
// response maps to ErrInvalidToken; transport failures surface as-is.
func (v *HTTPVerifier) VerifyToken(ctx context.Context, accessToken string) (string, error) {
	if accessToken == "" {
		return "", ErrInvalidToken
	}

	resp, err := v.client.R().
		SetContext(ctx).
		SetHeader("apikey", v.serviceKey).
		SetHeader("Authorization", "Bearer "+accessToken).
		Get("/auth/v1/user")
	if err != nil {
		return "", fmt.Errorf("auth provider request failed: %w", err)
	}

	if resp.IsError() {
		v.logger.DebugContext(ctx, "auth provider rejected token", "status", resp.StatusCode())
		return "", ErrInvalidToken
	}

	var user struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Body(), &user); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}
	if user.ID == "" {
		return "", ErrInvalidToken
	}
	return user.ID, nil
}
