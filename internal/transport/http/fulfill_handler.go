package http

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	apperrors "rosina/internal/errors"
	"rosina/internal/infrastructure"
	"rosina/internal/services"
	"rosina/pkg/contracts/domain"
)

// FulfillSecretHeader authenticates internal fulfillment triggers.
const FulfillSecretHeader = "X-Fulfill-Secret"

var validate = validator.New()

// FulfillHandler exposes the internal POST /api/fulfill trigger. It is
// never called by browsers; webhooks and the checkout success page drive
// it with the shared secret.
type FulfillHandler struct {
	fulfiller services.Fulfiller
	secret    string
	logger    *slog.Logger
}

// NewFulfillHandler creates the fulfillment trigger handler.
func NewFulfillHandler(fulfiller services.Fulfiller, secret string, logger *slog.Logger) *FulfillHandler {
	return &FulfillHandler{
		fulfiller: fulfiller,
		secret:    secret,
		logger:    logger.With(slog.String("handler", "fulfill")),
	}
}

// FulfillRequestBody is the POST /api/fulfill payload. SessionID carries
// the Stripe session id; ChargeID the Coinbase charge id. Email and Cart
// are only consulted when the order row has to be reconstructed.
type FulfillRequestBody struct {
	Provider  string       `json:"provider"`
	SessionID string       `json:"session_id,omitempty"`
	ChargeID  string       `json:"charge_id,omitempty"`
	Email     string       `json:"email,omitempty"`
	Cart      *domain.Cart `json:"cart,omitempty"`
}

// Bind implements render.Binder.
func (b *FulfillRequestBody) Bind(r *http.Request) error {
	b.Provider = strings.ToLower(strings.TrimSpace(b.Provider))
	if !domain.Provider(b.Provider).Valid() {
		return errors.New("provider must be stripe or coinbase")
	}
	if strings.TrimSpace(b.sessionID()) == "" {
		return errors.New("session_id or charge_id is required")
	}
	if b.Cart != nil {
		if err := validate.Struct(b.Cart); err != nil {
			return fmt.Errorf("invalid cart: %w", err)
		}
	}
	return nil
}

func (b *FulfillRequestBody) sessionID() string {
	if b.SessionID != "" {
		return b.SessionID
	}
	return b.ChargeID
}

// Handle handles POST /api/fulfill.
func (h *FulfillHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("fulfill-handler")
	ctx, span := tracer.Start(ctx, "fulfill.trigger")
	defer span.End()

	supplied := r.Header.Get(FulfillSecretHeader)
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(h.secret)) != 1 {
		h.logger.WarnContext(ctx, "fulfill trigger rejected, bad secret")
		h.renderProblem(w, r, apperrors.NewProblemDetails(
			http.StatusUnauthorized, apperrors.TypeUnauthorized,
			"Unauthorized", "Invalid fulfillment secret.", r.URL.Path,
		))
		return
	}

	body := &FulfillRequestBody{}
	if err := render.Bind(r, body); err != nil {
		h.renderProblem(w, r, apperrors.NewProblemDetails(
			http.StatusBadRequest, apperrors.TypeValidation,
			"Invalid Request", err.Error(), r.URL.Path,
		))
		return
	}
	span.SetAttributes(
		attribute.String("provider", body.Provider),
		attribute.String("session_id", body.sessionID()),
	)

	res, err := h.fulfiller.Fulfill(ctx, services.FulfillRequest{
		Provider:   domain.Provider(body.Provider),
		SessionID:  strings.TrimSpace(body.sessionID()),
		BuyerEmail: strings.TrimSpace(body.Email),
		Cart:       body.Cart,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "fulfillment failed",
			slog.String("provider", body.Provider),
			slog.String("session_id", body.sessionID()),
			slog.String("error", err.Error()),
		)
		h.renderProblem(w, r, apperrors.MapFulfillmentError(err, r.URL.Path, infrastructure.TraceIDFromContext(ctx)))
		return
	}

	h.logger.InfoContext(ctx, "fulfillment completed",
		slog.String("provider", body.Provider),
		slog.Int("key_count", res.KeyCount),
		slog.Bool("email_sent", res.EmailSent),
	)
	render.JSON(w, r, res)
}

func (h *FulfillHandler) renderProblem(w http.ResponseWriter, r *http.Request, problem *apperrors.ProblemDetails) {
	if err := render.Render(w, r, problem); err != nil {
		h.logger.Error("failed to render problem response", "error", err)
	}
}
