package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tokenpay/internal/config"
	"tokenpay/internal/database"
	"tokenpay/internal/handler"
	"tokenpay/internal/mw"
	"tokenpay/internal/notify"
	"tokenpay/internal/provider"
	"tokenpay/internal/service"
	"tokenpay/internal/worker"
)

func main() {
	cfg := config.New()

	db, err := database.NewDB(cfg.DatabaseURI)
	if err != nil {
		slog.Error("failed to connect to DB", "error", err)
		os.Exit(1)
	}
	defer database.CloseDB(context.Background(), db)

	if err := database.InitSchema(db); err != nil {
		slog.Error("failed to init DB schema", "error", err)
		os.Exit(1)
	}

	// External collaborators
	providerClient := provider.NewClient(cfg.ProviderAddress, cfg.ProviderShopID, cfg.ProviderSecretKey)
	var notifier notify.Notifier = notify.Noop{}
	if cfg.NotifierToken != "" {
		notifier = notify.NewTelegram(cfg.NotifierAddress, cfg.NotifierToken)
	}

	// Services
	ledgerSvc := service.NewLedgerService(db)
	orderSvc := service.NewOrderService(db, providerClient, cfg.Currency, cfg.ProviderReturnURL)
	settlementSvc := service.NewSettlementService(db, notifier)

	// Reconciler
	reconciler := worker.NewReconciler(orderSvc, settlementSvc, providerClient, worker.Config{
		Interval:     cfg.SweepInterval,
		QueryTimeout: cfg.ProviderQueryTimeout,
		Freshness:    cfg.OrderFreshness,
		Retention:    cfg.OrderRetention,
	})

	// Router
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Gateway-Key"},
		ExposedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	// Gateway token mint
	r.Post("/api/gateway/token", handler.GatewayTokenHandler(ledgerSvc, cfg.GatewayKeyHash, cfg.JWTSecret))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(mw.AuthMiddleware(cfg.JWTSecret))

		r.Get("/api/packs", handler.ListPacksHandler())

		r.Get("/api/user/balance", handler.GetBalanceHandler(ledgerSvc, cfg.CostPerRequest))
		r.Post("/api/user/debit", handler.DebitHandler(ledgerSvc, cfg.CostPerRequest))
		r.Post("/api/user/refund", handler.RefundHandler(ledgerSvc, cfg.CostPerRequest))

		r.Post("/api/user/orders", handler.CreateOrderHandler(orderSvc))
		r.Get("/api/user/orders/{orderID}", handler.GetOrderHandler(orderSvc))
		r.Post("/api/user/orders/{orderID}/check", handler.CheckOrderHandler(orderSvc, reconciler))

		r.Get("/api/user/payments", handler.ListPaymentsHandler(orderSvc))
	})

	srv := &http.Server{
		Addr:         cfg.RunAddress,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go reconciler.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	slog.Info("starting server", "addr", cfg.RunAddress)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-quit
	slog.Info("shutting down...")

	cancel() // stop reconciler
	ctxShut, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()

	if err := srv.Shutdown(ctxShut); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}

	slog.Info("server stopped")
}
