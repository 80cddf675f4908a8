package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"rosina/internal/auth"
	"rosina/internal/config"
	"rosina/internal/infrastructure"
	"rosina/internal/keys"
	"rosina/internal/notify"
	"rosina/internal/payments"
	"rosina/internal/services"
	"rosina/internal/store"
	handlers "rosina/internal/transport/http"
	"rosina/pkg/contracts"
)

// Application is the composed service container.
type Application struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *infrastructure.Metrics
	Store   *store.Store
	Server  *http.Server

	sweeper *services.ClaimSweeper
	otel    *infrastructure.OTelProviders
}

// NewApplication loads configuration and wires every layer together.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("version", contracts.Version),
		slog.Int("port", cfg.Server.Port),
	)

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("initialize tracing: %w", err)
	}

	metrics := infrastructure.NewMetrics()

	st, err := store.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.ConnectTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("connect datastore: %w", err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	cipher, err := keys.NewCipher(cfg.Keys.DeliverySecret)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build bundle cipher: %w", err)
	}

	stripeClient := payments.NewStripeClient(cfg.Stripe.SecretKey, logger)
	sender := notify.NewResendSender(cfg.Email.APIKey, cfg.Email.From, cfg.Email.ReplyTo, cfg.Email.BaseURL, logger)
	verifier := auth.NewHTTPVerifier(cfg.Security.AuthBaseURL, cfg.Security.AuthServiceKey, logger)

	fulfillment := services.NewFulfillmentService(
		st, st, st, st,
		stripeClient, cipher, sender,
		metrics, logger,
		services.FulfillmentConfig{
			HashSecret: cfg.Keys.HashSecret,
			ClaimTTL:   cfg.Claims.TokenTTL,
			BaseURL:    cfg.Server.BaseURL,
		},
	)
	claims := services.NewClaimService(st, st, cipher, fulfillment, metrics, logger)
	redeem := services.NewRedeemService(verifier, st, metrics, logger, cfg.Keys.HashSecret)
	sweeper := services.NewClaimSweeper(st, cfg.Database.SweeperInterval, logger)

	router := handlers.NewRouter(handlers.RouterConfig{
		Logger:           logger,
		Metrics:          metrics,
		AllowedOrigins:   cfg.Security.AllowedOrigins,
		EnableCORS:       cfg.Security.EnableCORS,
		RateLimitEnabled: cfg.Security.RateLimit.Enabled,
		RateLimitRPS:     cfg.Security.RateLimit.RPS,
		RateLimitBurst:   cfg.Security.RateLimit.Burst,
		ClaimPerMinute:   float64(cfg.Claims.RatePerMin),
		ClaimBurst:       cfg.Claims.RateBurst,
		RequestTimeout:   cfg.Server.WriteTimeout,
	}, handlers.Handlers{
		Webhook: handlers.NewWebhookHandler(
			payments.NewStripeVerifier(cfg.Stripe.WebhookSecret, cfg.Stripe.Tolerance),
			payments.NewCoinbaseVerifier(cfg.Coinbase.WebhookSecret),
			st, st, fulfillment, metrics, logger,
		),
		Fulfill:       handlers.NewFulfillHandler(fulfillment, cfg.Keys.FulfillSecret, logger),
		Claim:         handlers.NewClaimHandler(claims, logger),
		Redeem:        handlers.NewRedeemHandler(redeem, logger),
		PaymentStatus: handlers.NewPaymentStatusHandler(st, logger),
		Health:        handlers.NewHealthHandler(st, logger),
	})

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	return &Application{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		Store:   st,
		Server:  server,
		sweeper: sweeper,
		otel:    otelProviders,
	}, nil
}

// Run starts the HTTP server and the claim token sweeper, then blocks
// until an interrupt arrives or a component fails.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.Logger.Info("http server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		err := a.sweeper.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	group.Go(func() error {
		<-ctx.Done()
		a.Logger.Info("shutdown signal received")
		return a.shutdown()
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}
	a.Logger.Info("application stopped")
	return nil
}

func (a *Application) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	var firstErr error
	if err := a.Server.Shutdown(ctx); err != nil {
		a.Logger.Error("http server shutdown failed", slog.String("error", err.Error()))
		firstErr = err
	}
	if err := a.otel.Shutdown(ctx); err != nil {
		a.Logger.Error("tracing shutdown failed", slog.String("error", err.Error()))
		if firstErr == nil {
			firstErr = err
		}
	}
	a.Store.Close()
	if err := infrastructure.CloseLogFile(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
