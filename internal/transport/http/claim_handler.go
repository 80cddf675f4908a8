package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"

	apperrors "rosina/internal/errors"
	"rosina/internal/infrastructure"
)

// ClaimHandler exposes POST /api/claim: a single-use token in, the
// decrypted purchase out. Responses are never cacheable; the router wraps
// this handler in the no-store and per-IP rate limit middleware.
type ClaimHandler struct {
	claims ClaimResolver
	logger *slog.Logger
}

// NewClaimHandler creates the claim handler.
func NewClaimHandler(claims ClaimResolver, logger *slog.Logger) *ClaimHandler {
	return &ClaimHandler{
		claims: claims,
		logger: logger.With(slog.String("handler", "claim")),
	}
}

// ClaimRequestBody is the POST /api/claim payload.
type ClaimRequestBody struct {
	Claim string `json:"claim"`
}

// Bind implements render.Binder.
func (b *ClaimRequestBody) Bind(r *http.Request) error {
	b.Claim = strings.TrimSpace(b.Claim)
	if b.Claim == "" {
		return errors.New("claim is required")
	}
	return nil
}

// Handle handles POST /api/claim.
func (h *ClaimHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("claim-handler")
	ctx, span := tracer.Start(ctx, "claim.resolve")
	defer span.End()

	body := &ClaimRequestBody{}
	if err := render.Bind(r, body); err != nil {
		h.renderProblem(w, r, apperrors.NewProblemDetails(
			http.StatusBadRequest, apperrors.TypeValidation,
			"Invalid Request", err.Error(), r.URL.Path,
		))
		return
	}

	res, err := h.claims.Claim(ctx, body.Claim)
	if err != nil {
		if !errors.Is(err, apperrors.ErrClaimInvalid) && !errors.Is(err, apperrors.ErrClaimNotReady) {
			h.logger.ErrorContext(ctx, "claim failed", "error", err)
		}
		h.renderProblem(w, r, apperrors.MapFulfillmentError(err, r.URL.Path, infrastructure.TraceIDFromContext(ctx)))
		return
	}

	plain := make([]string, len(res.Keys))
	for i, k := range res.Keys {
		plain[i] = k.Key
	}

	h.logger.InfoContext(ctx, "claim resolved",
		slog.String("provider", string(res.Provider)),
		slog.Int("key_count", len(plain)),
	)
	render.JSON(w, r, map[string]any{
		"ok":       true,
		"provider": string(res.Provider),
		"keys":     plain,
		"items":    res.Items,
	})
}

func (h *ClaimHandler) renderProblem(w http.ResponseWriter, r *http.Request, problem *apperrors.ProblemDetails) {
	if err := render.Render(w, r, problem); err != nil {
		h.logger.Error("failed to render problem response", "error", err)
	}
}
