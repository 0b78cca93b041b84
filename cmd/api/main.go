package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/invoicing/internal/bootstrap"
	"github.com/cassiomorais/invoicing/internal/controller"
	"github.com/cassiomorais/invoicing/internal/webhook"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "invoicing-api"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, serviceName, "invoicing")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	svcs, err := app.Services()
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to wire services")
	}

	if app.Config.Chargily.WebhookSecret == "" {
		app.Logger.Warn().Msg("Chargily webhook secret not set, every webhook will be rejected")
	}

	router := controller.NewRouter(controller.RouterDeps{
		InvoiceService:   svcs.Invoices,
		CheckoutService:  svcs.Checkout,
		Reconciler:       svcs.Reconciler,
		Verifier:         webhook.NewVerifier(app.Config.Chargily.WebhookSecret),
		IdempotencyRepo:  svcs.IdempotencyRepo,
		IdempotencyTTL:   app.Config.Worker.IdempotencyTTL,
		HealthChecks:     app.HealthChecks(),
		Metrics:          app.Metrics,
		MetricsHandler:   promhttp.Handler(),
		CORSConfig:       app.Config.Server.CORS,
		JWTSecret:        app.Config.Auth.JWTSecret,
		WebhookRateLimit: app.Config.Server.WebhookRateLimit,
		ServiceName:      serviceName,
	})

	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	cancel()
	app.Logger.Info().Msg("Server exited")
}
