package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "rosina/internal/errors"
	"rosina/internal/infrastructure"
	mw "rosina/internal/middleware"
)

// RouterConfig carries the transport-level knobs the router needs.
type RouterConfig struct {
	Logger         *slog.Logger
	Metrics        *infrastructure.Metrics
	AllowedOrigins []string
	EnableCORS     bool

	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// Claim endpoint gets its own per-IP limiter on top of the global one.
	ClaimPerMinute float64
	ClaimBurst     int

	RequestTimeout time.Duration
}

// Handlers groups the endpoint handlers the router mounts.
type Handlers struct {
	Webhook       *WebhookHandler
	Fulfill       *FulfillHandler
	Claim         *ClaimHandler
	Redeem        *RedeemHandler
	PaymentStatus *PaymentStatusHandler
	Health        *HealthHandler
}

// NewRouter assembles the chi router with the full middleware chain.
func NewRouter(cfg RouterConfig, h Handlers) http.Handler {
	r := chi.NewRouter()

	errHandler := apperrors.NewErrorHandler(cfg.Logger)
	r.NotFound(errHandler.NotFound)
	r.MethodNotAllowed(errHandler.MethodNotAllowed)

	r.Use(mw.RequestID)
	r.Use(mw.RealIP)
	r.Use(mw.StructuredLogger(cfg.Logger))
	r.Use(mw.Recoverer(cfg.Logger))
	r.Use(mw.SecurityHeaders)
	r.Use(mw.StripSlashes)

	if cfg.EnableCORS {
		r.Use(mw.CORS(mw.CORSConfig{
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         cfg.Logger,
		}))
	}
	if cfg.RateLimitEnabled {
		limiter := mw.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.Logger)
		r.Use(limiter.Handler)
	}
	if cfg.RequestTimeout > 0 {
		r.Use(mw.Timeout(cfg.RequestTimeout, cfg.Logger))
	}

	claimLimiter := mw.NewKeyedLimiter(cfg.ClaimPerMinute, cfg.ClaimBurst, cfg.Logger)

	r.Route("/api", func(api chi.Router) {
		api.Mount("/webhooks", h.Webhook.Routes())
		api.Post("/fulfill", h.Fulfill.Handle)
		api.Post("/redeem", h.Redeem.Handle)
		api.Get("/payment-status", h.PaymentStatus.Handle)
		api.Mount("/health", h.Health.Routes())

		api.Group(func(g chi.Router) {
			g.Use(mw.NoStore)
			g.Use(claimLimiter.Handler)
			g.Post("/claim", h.Claim.Handle)
		})
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		cfg.Metrics.Registry,
		promhttp.HandlerOpts{},
	))

	return r
}
