package http

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "rosina/internal/errors"
	"rosina/internal/infrastructure"
	"rosina/internal/payments"
	"rosina/internal/services"
	"rosina/pkg/contracts/domain"
)

// maxWebhookBody caps how much of a provider payload is read. Stripe
// events stay well under this.
const maxWebhookBody = 1 << 20

// WebhookHandler receives and authenticates provider webhooks, records
// them in the idempotency ledger, and triggers fulfillment.
type WebhookHandler struct {
	stripe    *payments.StripeVerifier
	coinbase  *payments.CoinbaseVerifier
	events    services.EventStore
	charges   services.ChargeStore
	fulfiller services.Fulfiller
	metrics   *infrastructure.Metrics
	logger    *slog.Logger
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(
	stripe *payments.StripeVerifier,
	coinbase *payments.CoinbaseVerifier,
	events services.EventStore,
	charges services.ChargeStore,
	fulfiller services.Fulfiller,
	metrics *infrastructure.Metrics,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		stripe:    stripe,
		coinbase:  coinbase,
		events:    events,
		charges:   charges,
		fulfiller: fulfiller,
		metrics:   metrics,
		logger:    logger.With(slog.String("handler", "webhook")),
	}
}

// Routes returns the webhook subrouter.
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/stripe", h.HandleStripe)
	r.Post("/coinbase", h.HandleCoinbase)
	return r
}

// HandleStripe handles POST /api/webhooks/stripe. The signed event is the
// trigger only; payment state is re-verified against the Stripe API inside
// fulfillment.
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("webhook-handler")
	ctx, span := tracer.Start(ctx, "webhook.stripe",
		trace.WithAttributes(attribute.String("provider", "stripe")),
	)
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.renderProblem(w, r, apperrors.NewProblemDetails(
			http.StatusBadRequest, apperrors.TypeValidation,
			"Unreadable Body", "The request body could not be read.", r.URL.Path,
		))
		return
	}

	event, err := h.stripe.VerifyEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.metrics.WebhookEvents.WithLabelValues("stripe", "invalid_signature").Inc()
		h.logger.WarnContext(ctx, "stripe webhook signature rejected", "error", err)
		h.renderProblem(w, r, apperrors.NewProblemDetails(
			http.StatusBadRequest, apperrors.TypeInvalidSignature,
			"Invalid Signature", "Webhook signature verification failed.", r.URL.Path,
		))
		return
	}
	span.SetAttributes(attribute.String("event.id", event.ID), attribute.String("event.type", string(event.Type)))

	if !payments.FulfillmentEvent(string(event.Type)) {
		h.metrics.WebhookEvents.WithLabelValues("stripe", "ignored").Inc()
		render.JSON(w, r, map[string]any{"ok": true})
		return
	}

	sessionID, err := payments.SessionIDFromEvent(event)
	if err != nil {
		h.metrics.WebhookEvents.WithLabelValues("stripe", "malformed").Inc()
		h.renderProblem(w, r, apperrors.NewProblemDetails(
			http.StatusBadRequest, apperrors.TypeValidation,
			"Missing Session", err.Error(), r.URL.Path,
		))
		return
	}

	logger := h.logger.With(
		slog.String("event_id", event.ID),
		slog.String("session_id", sessionID),
	)

	fresh, err := h.events.RecordEvent(ctx, domain.ProviderStripe, event.ID)
	if err != nil {
		logger.ErrorContext(ctx, "idempotency ledger write failed", "error", err)
		h.renderProblem(w, r, internalProblem(r))
		return
	}
	if !fresh {
		h.metrics.WebhookEvents.WithLabelValues("stripe", "duplicate").Inc()
		logger.InfoContext(ctx, "duplicate stripe event acknowledged")
		render.JSON(w, r, map[string]any{"ok": true, "duplicate": true})
		return
	}

	res, err := h.fulfiller.Fulfill(ctx, services.FulfillRequest{
		Provider:    domain.ProviderStripe,
		SessionID:   sessionID,
		FromWebhook: true,
	})
	if err != nil {
		// Release the ledger entry so the provider's retry is not a no-op.
		if delErr := h.events.DeleteEvent(ctx, domain.ProviderStripe, event.ID); delErr != nil {
			logger.ErrorContext(ctx, "failed to release event marker", "error", delErr)
		}
		h.metrics.WebhookEvents.WithLabelValues("stripe", "failed").Inc()
		logger.ErrorContext(ctx, "stripe webhook fulfillment failed", "error", err)
		h.renderProblem(w, r, internalProblem(r))
		return
	}

	h.metrics.WebhookEvents.WithLabelValues("stripe", "processed").Inc()
	logger.InfoContext(ctx, "stripe webhook fulfilled",
		slog.Int("key_count", res.KeyCount),
		slog.Bool("email_sent", res.EmailSent),
	)
	render.JSON(w, r, map[string]any{"ok": true, "key_count": res.KeyCount})
}

// HandleCoinbase handles POST /api/webhooks/coinbase. Every authenticated
// event updates the charge audit row; fulfillment runs only once the
// charge is confirmed.
func (h *WebhookHandler) HandleCoinbase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("webhook-handler")
	ctx, span := tracer.Start(ctx, "webhook.coinbase",
		trace.WithAttributes(attribute.String("provider", "coinbase")),
	)
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.renderProblem(w, r, apperrors.NewProblemDetails(
			http.StatusBadRequest, apperrors.TypeValidation,
			"Unreadable Body", "The request body could not be read.", r.URL.Path,
		))
		return
	}

	if !h.coinbase.Verify(body, r.Header.Get(payments.CoinbaseSignatureHeader)) {
		h.metrics.WebhookEvents.WithLabelValues("coinbase", "invalid_signature").Inc()
		h.logger.WarnContext(ctx, "coinbase webhook signature rejected")
		h.renderProblem(w, r, apperrors.NewProblemDetails(
			http.StatusUnauthorized, apperrors.TypeInvalidSignature,
			"Invalid Signature", "Webhook signature verification failed.", r.URL.Path,
		))
		return
	}

	event, err := payments.ParseCoinbaseEvent(body)
	if err != nil {
		h.metrics.WebhookEvents.WithLabelValues("coinbase", "malformed").Inc()
		h.renderProblem(w, r, apperrors.NewProblemDetails(
			http.StatusBadRequest, apperrors.TypeValidation,
			"Malformed Event", err.Error(), r.URL.Path,
		))
		return
	}
	span.SetAttributes(attribute.String("charge.id", event.ChargeID), attribute.String("event.type", event.Type))

	logger := h.logger.With(
		slog.String("charge_id", event.ChargeID),
		slog.String("event_type", event.Type),
	)

	status := payments.StatusFromEvent(event)
	if err := h.charges.UpsertCharge(ctx, event.ChargeID, status, event.Raw); err != nil {
		logger.ErrorContext(ctx, "charge upsert failed", "error", err)
		h.renderProblem(w, r, internalProblem(r))
		return
	}

	if status != domain.ChargeStatusConfirmed {
		h.metrics.WebhookEvents.WithLabelValues("coinbase", strings.ToLower(string(status))).Inc()
		logger.InfoContext(ctx, "coinbase charge recorded", slog.String("status", string(status)))
		render.JSON(w, r, map[string]any{"ok": true, "status": string(status)})
		return
	}

	fresh, err := h.events.RecordEvent(ctx, domain.ProviderCoinbase, event.EventID)
	if err != nil {
		logger.ErrorContext(ctx, "idempotency ledger write failed", "error", err)
		h.renderProblem(w, r, internalProblem(r))
		return
	}
	if !fresh {
		h.metrics.WebhookEvents.WithLabelValues("coinbase", "duplicate").Inc()
		render.JSON(w, r, map[string]any{"ok": true, "duplicate": true})
		return
	}

	res, err := h.fulfiller.Fulfill(ctx, services.FulfillRequest{
		Provider:    domain.ProviderCoinbase,
		SessionID:   event.ChargeID,
		FromWebhook: true,
	})
	if err != nil {
		if delErr := h.events.DeleteEvent(ctx, domain.ProviderCoinbase, event.EventID); delErr != nil {
			logger.ErrorContext(ctx, "failed to release event marker", "error", delErr)
		}
		h.metrics.WebhookEvents.WithLabelValues("coinbase", "failed").Inc()
		logger.ErrorContext(ctx, "coinbase webhook fulfillment failed", "error", err)
		h.renderProblem(w, r, internalProblem(r))
		return
	}

	h.metrics.WebhookEvents.WithLabelValues("coinbase", "processed").Inc()
	logger.InfoContext(ctx, "coinbase webhook fulfilled",
		slog.Int("key_count", res.KeyCount),
		slog.Bool("email_sent", res.EmailSent),
	)
	render.JSON(w, r, map[string]any{"ok": true, "key_count": res.KeyCount})
}

func (h *WebhookHandler) renderProblem(w http.ResponseWriter, r *http.Request, problem *apperrors.ProblemDetails) {
	problem.WithExtension("trace_id", infrastructure.TraceIDFromContext(r.Context()))
	if err := render.Render(w, r, problem); err != nil {
		h.logger.Error("failed to render problem response", "error", err)
	}
}

func internalProblem(r *http.Request) *apperrors.ProblemDetails {
	return apperrors.NewProblemDetails(
		http.StatusInternalServerError, apperrors.TypeInternal,
		"Internal Server Error", "An unexpected error occurred while processing the event.", r.URL.Path,
	)
}
