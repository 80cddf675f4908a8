package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"

	"rosina/internal/auth"
	apperrors "rosina/internal/errors"
	"rosina/internal/infrastructure"
)

// RedeemHandler exposes POST /api/redeem for the desktop app. The caller
// authenticates with a bearer token resolved against the collaborator
// auth service; the key itself is single-redemption.
type RedeemHandler struct {
	redeemer KeyRedeemer
	logger   *slog.Logger
}

// NewRedeemHandler creates the redeem handler.
func NewRedeemHandler(redeemer KeyRedeemer, logger *slog.Logger) *RedeemHandler {
	return &RedeemHandler{
		redeemer: redeemer,
		logger:   logger.With(slog.String("handler", "redeem")),
	}
}

// RedeemRequestBody is the POST /api/redeem payload.
type RedeemRequestBody struct {
	Key string `json:"key"`
}

// Bind implements render.Binder.
func (b *RedeemRequestBody) Bind(r *http.Request) error {
	if strings.TrimSpace(b.Key) == "" {
		return errors.New("key is required")
	}
	return nil
}

// Handle handles POST /api/redeem.
func (h *RedeemHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("redeem-handler")
	ctx, span := tracer.Start(ctx, "redeem.key")
	defer span.End()

	token := bearerToken(r)
	if token == "" {
		h.renderProblem(w, r, apperrors.NewProblemDetails(
			http.StatusUnauthorized, apperrors.TypeUnauthorized,
			"Unauthorized", "A bearer token is required.", r.URL.Path,
		))
		return
	}

	body := &RedeemRequestBody{}
	if err := render.Bind(r, body); err != nil {
		h.renderProblem(w, r, apperrors.NewProblemDetails(
			http.StatusBadRequest, apperrors.TypeValidation,
			"Invalid Request", err.Error(), r.URL.Path,
		))
		return
	}

	row, err := h.redeemer.Redeem(ctx, token, body.Key)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidToken):
			h.renderProblem(w, r, apperrors.NewProblemDetails(
				http.StatusUnauthorized, apperrors.TypeUnauthorized,
				"Unauthorized", "The session token is invalid or expired.", r.URL.Path,
			))
		case errors.Is(err, apperrors.ErrKeyNotRedeemable):
			h.renderProblem(w, r, apperrors.MapFulfillmentError(err, r.URL.Path, infrastructure.TraceIDFromContext(ctx)))
		default:
			h.logger.ErrorContext(ctx, "redeem failed", "error", err)
			h.renderProblem(w, r, apperrors.MapFulfillmentError(err, r.URL.Path, infrastructure.TraceIDFromContext(ctx)))
		}
		return
	}

	h.logger.InfoContext(ctx, "key redeemed", slog.String("product_id", row.ProductID))
	render.JSON(w, r, map[string]any{
		"ok":                 true,
		"product_id":         row.ProductID,
		"product_variant_id": row.ProductVariantID,
	})
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func (h *RedeemHandler) renderProblem(w http.ResponseWriter, r *http.Request, problem *apperrors.ProblemDetails) {
	if err := render.Render(w, r, problem); err != nil {
		h.logger.Error("failed to render problem response", "error", err)
	}
}
