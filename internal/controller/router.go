package controller

import (
	"net/http"
	"time"

	"github.com/cassiomorais/invoicing/internal/infrastructure/config"
	"github.com/cassiomorais/invoicing/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/invoicing/internal/middleware"
	"github.com/cassiomorais/invoicing/internal/service"
	"github.com/cassiomorais/invoicing/internal/webhook"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterDeps struct {
	InvoiceService  *service.InvoiceService
	CheckoutService *service.CheckoutService
	Reconciler      *service.ReconciliationService
	Verifier        *webhook.Verifier
	IdempotencyRepo customMW.IdempotencyStore
	IdempotencyTTL  time.Duration
	HealthChecks    map[string]HealthCheck
	Metrics         *observability.Metrics
	MetricsHandler  http.Handler
	CORSConfig      config.CORSConfig
	JWTSecret       string
	// WebhookRateLimit is requests per minute per IP; 0 disables it.
	WebhookRateLimit int
	ServiceName      string
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing(deps.ServiceName))
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", customMW.IdempotencyHeader},
		ExposedHeaders:   []string{"Link", "X-Idempotency-Replayed"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.HealthChecks)
	invoiceH := NewInvoiceController(deps.InvoiceService, deps.CheckoutService, service.NewAuthzService(deps.JWTSecret != ""))
	webhookH := NewWebhookController(deps.Verifier, deps.Reconciler)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	// Gateway callbacks: signature-gated, never JWT.
	r.Group(func(r chi.Router) {
		if deps.WebhookRateLimit > 0 {
			r.Use(customMW.RateLimit("webhook", deps.WebhookRateLimit, deps.Metrics))
		}
		r.Post("/webhooks/chargily", webhookH.Chargily)
	})

	r.Route("/api/v1", func(r chi.Router) {
		if deps.JWTSecret != "" {
			r.Use(customMW.RequireAuth(deps.JWTSecret))
		}

		// Idempotency middleware for mutating endpoints.
		idempotencyMW := func(next http.Handler) http.Handler { return next }
		if deps.IdempotencyRepo != nil {
			idempotencyMW = customMW.Idempotency(deps.IdempotencyRepo, deps.IdempotencyTTL)
		}

		r.With(idempotencyMW).Post("/invoices", invoiceH.Create)
		r.Get("/invoices", invoiceH.List)
		r.Get("/invoices/stats", invoiceH.Stats)
		r.Get("/invoices/{id}", invoiceH.Get)
		r.With(idempotencyMW).Post("/invoices/{id}/checkout", invoiceH.Checkout)
		r.Post("/invoices/{id}/refresh", invoiceH.Refresh)
		r.Get("/invoices/{id}/events", invoiceH.Events)
	})

	return r
}
