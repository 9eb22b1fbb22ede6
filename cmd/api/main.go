package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/paylink/qrpay/internal/bootstrap"
	"github.com/paylink/qrpay/internal/controller"
	"github.com/paylink/qrpay/internal/fiscal"
	"github.com/paylink/qrpay/internal/gateway"
	"github.com/paylink/qrpay/internal/notification"
	"github.com/paylink/qrpay/internal/repository/postgres"
	"github.com/paylink/qrpay/internal/service"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.New(ctx, "qrpay-api", "qrpay")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	// --- Repositories ---
	paymentRepo := postgres.NewPaymentRepository(app.Pool)
	customerRepo := postgres.NewCustomerRepository(app.Pool)
	ledgerRepo := postgres.NewLedgerRepository(app.Pool)
	idempotencyRepo := postgres.NewIdempotencyRepository(app.Pool)
	txManager := postgres.NewTxManager(app.Pool)

	// --- External adapters ---
	gatewayClient := gateway.NewHTTPClient(app.Config.Gateway, app.Metrics, app.Logger)
	fiscalClient := fiscal.NewHTTPClient(app.Config.Fiscal, app.Logger)

	gate, err := notification.NewGate(app.Config.Notification)
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Invalid notification gate configuration")
	}

	// --- Application service ---
	orchestrator := service.NewOrchestrator(
		paymentRepo,
		customerRepo,
		ledgerRepo,
		gatewayClient,
		fiscalClient,
		txManager,
		app.Metrics,
		app.Logger,
	)

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		Pool:            app.Pool,
		RedisClient:     app.Redis,
		Payments:        orchestrator,
		Notifications:   orchestrator,
		Gate:            gate,
		IdempotencyRepo: idempotencyRepo,
		Metrics:         app.Metrics,
		CORSConfig:      app.Config.Server.CORS,
		JWTSecret:       app.Config.Auth.JWTSecret,
		Logger:          app.Logger,
	})

	// --- HTTP server ---
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
