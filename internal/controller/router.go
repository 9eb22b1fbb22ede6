package controller

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/paylink/qrpay/internal/infrastructure/config"
	"github.com/paylink/qrpay/internal/infrastructure/observability"
	customMW "github.com/paylink/qrpay/internal/middleware"
	"github.com/paylink/qrpay/internal/notification"
	"github.com/paylink/qrpay/internal/repository/postgres"
)

type RouterDeps struct {
	Pool            *pgxpool.Pool
	RedisClient     *redis.Client
	Payments        PaymentService
	Notifications   NotificationHandler
	Gate            *notification.Gate
	IdempotencyRepo *postgres.IdempotencyRepository
	Metrics         *observability.Metrics
	CORSConfig      config.CORSConfig
	JWTSecret       string
	Logger          zerolog.Logger
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.Pool, deps.RedisClient)
	paymentH := NewPaymentController(deps.Payments)
	notificationH := NewNotificationController(deps.Gate, deps.Notifications, deps.Logger)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Idempotency middleware for the create endpoint.
		idempotencyMW := customMW.Idempotency(deps.IdempotencyRepo)

		// Merchant-facing API, authenticated when a JWT secret is configured.
		// RealIP applies here only: the notification gate below must see the
		// raw connection address, since X-Forwarded-For is caller-controlled.
		r.Group(func(r chi.Router) {
			r.Use(chimw.RealIP)
			if deps.JWTSecret != "" {
				r.Use(customMW.RequireAuth(deps.JWTSecret))
			}

			r.With(idempotencyMW).Post("/payments", paymentH.Create)
			r.Get("/payments/{id}", paymentH.Get)
			r.Get("/payments", paymentH.List)
			r.Post("/payments/{id}/cancel", paymentH.Cancel)
			r.Post("/payments/{id}/refund", paymentH.Refund)
		})

		// Gateway callback, guarded by the notification gate instead of JWT.
		r.Post("/callback/payment", notificationH.HandleCallback)
	})

	return r
}
