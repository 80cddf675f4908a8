package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		assert.Equal(t, "srv-key", r.Header.Get("apikey"))

		switch r.Header.Get("Authorization") {
		case "Bearer good-token":
			w.Write([]byte(`{"id":"user-42","email":"u@example.com"}`))
		case "Bearer empty-user":
			w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"invalid JWT"}`))
		}
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL, "srv-key", testLogger())
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		id, err := v.VerifyToken(ctx, "good-token")
		require.NoError(t, err)
		assert.Equal(t, "user-42", id)
	})

	t.Run("rejected token", func(t *testing.T) {
		_, err := v.VerifyToken(ctx, "bad-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("response without user id", func(t *testing.T) {
		_, err := v.VerifyToken(ctx, "empty-user")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("empty token short-circuits", func(t *testing.T) {
		_, err := v.VerifyToken(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
