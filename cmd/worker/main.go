package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/paylink/qrpay/internal/bootstrap"
	"github.com/paylink/qrpay/internal/fiscal"
	infraRedis "github.com/paylink/qrpay/internal/infrastructure/redis"
	"github.com/paylink/qrpay/internal/repository/postgres"
	"github.com/paylink/qrpay/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "qrpay-worker", "qrpay_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	paymentRepo := postgres.NewPaymentRepository(app.Pool)
	ledgerRepo := postgres.NewLedgerRepository(app.Pool)
	fiscalClient := fiscal.NewHTTPClient(app.Config.Fiscal, app.Logger)

	// One sweep at a time across all worker instances.
	lock := infraRedis.NewDistributedLock(app.Redis, "receipt-sweep", app.Config.Worker.LockTTL)

	sweeper := service.NewReceiptSweeper(
		ledgerRepo,
		paymentRepo,
		fiscalClient,
		lock,
		app.Config.Worker.BatchSize,
		app.Metrics,
		app.Logger,
	)

	// Metrics and liveness endpoint for the worker process.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", app.Config.Server.Port),
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.Logger.Info().Dur("interval", app.Config.Worker.SweepInterval).Msg("Starting receipt sweeper")
		return sweeper.Run(gctx, app.Config.Worker.SweepInterval)
	})

	g.Go(func() error {
		app.Logger.Info().Str("addr", srv.Addr).Msg("Starting worker HTTP endpoint")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker exited with error")
		os.Exit(1)
	}
	app.Logger.Info().Msg("Worker exited")
}
