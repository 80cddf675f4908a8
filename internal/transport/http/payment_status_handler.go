package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	apperrors "rosina/internal/errors"
	"rosina/internal/services"
	"rosina/internal/store"
	"rosina/pkg/contracts/domain"
)

// PaymentStatusHandler serves GET /api/payment-status, polled by the
// checkout page while a crypto payment confirms. Stripe redirects only
// after completion, so stripe polls answer CONFIRMED unconditionally.
type PaymentStatusHandler struct {
	charges services.ChargeStore
	logger  *slog.Logger
}

// NewPaymentStatusHandler creates the payment status handler.
func NewPaymentStatusHandler(charges services.ChargeStore, logger *slog.Logger) *PaymentStatusHandler {
	return &PaymentStatusHandler{
		charges: charges,
		logger:  logger.With(slog.String("handler", "payment_status")),
	}
}

// Handle handles GET /api/payment-status?provider=&charge_id=.
func (h *PaymentStatusHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("provider")))

	if provider == string(domain.ProviderStripe) {
		render.JSON(w, r, map[string]any{"ok": true, "status": string(domain.ChargeStatusConfirmed)})
		return
	}
	if provider != string(domain.ProviderCoinbase) {
		h.renderProblem(w, r, apperrors.NewProblemDetails(
			http.StatusBadRequest, apperrors.TypeValidation,
			"Unsupported Provider", "provider must be stripe or coinbase", r.URL.Path,
		))
		return
	}

	chargeID := strings.TrimSpace(r.URL.Query().Get("charge_id"))
	if chargeID == "" {
		h.renderProblem(w, r, apperrors.NewProblemDetails(
			http.StatusBadRequest, apperrors.TypeValidation,
			"Missing Charge", "charge_id is required", r.URL.Path,
		))
		return
	}

	charge, err := h.charges.GetCharge(ctx, chargeID)
	if err != nil {
		// An unseen charge is simply one whose webhook has not landed yet.
		if errors.Is(err, store.ErrNotFound) {
			render.JSON(w, r, map[string]any{"ok": true, "status": string(domain.ChargeStatusPending)})
			return
		}
		h.logger.ErrorContext(ctx, "charge status lookup failed", "error", err)
		h.renderProblem(w, r, internalProblem(r))
		return
	}

	render.JSON(w, r, map[string]any{"ok": true, "status": string(charge.Status)})
}

func (h *PaymentStatusHandler) renderProblem(w http.ResponseWriter, r *http.Request, problem *apperrors.ProblemDetails) {
	if err := render.Render(w, r, problem); err != nil {
		h.logger.Error("failed to render problem response", "error", err)
	}
}
