package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/proxymart/proxymart/internal/cart"
	"github.com/proxymart/proxymart/internal/catalog"
	"github.com/proxymart/proxymart/internal/checkout"
	"github.com/proxymart/proxymart/internal/config"
	"github.com/proxymart/proxymart/internal/db"
	"github.com/proxymart/proxymart/internal/events"
	"github.com/proxymart/proxymart/internal/handler"
	"github.com/proxymart/proxymart/internal/metrics"
	"github.com/proxymart/proxymart/internal/order"
	"github.com/proxymart/proxymart/internal/payment"
	"github.com/proxymart/proxymart/internal/purchase"
	"github.com/proxymart/proxymart/internal/supplier"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "proxymart").Logger()

	log.Info().Msg("Proxymart starting...")

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	dbConn, err := db.New(context.Background(), cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbConn.Close()

	if err := dbConn.ApplyMigrations(); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	catalogRepo := catalog.NewRepository(dbConn.Pool)
	orderRepo := order.NewRepository(dbConn.Pool)
	cartRepo := cart.NewRepository(dbConn.Pool)
	purchaseRepo := purchase.NewRepository(dbConn.Pool)

	gateway := payment.NewCryptomus(payment.CryptomusConfig{
		BaseURL:       cfg.Cryptomus.BaseURL,
		MerchantID:    cfg.Cryptomus.MerchantID,
		APIKey:        cfg.Cryptomus.APIKey,
		WebhookSecret: cfg.Cryptomus.WebhookSecret,
		SuccessURL:    cfg.Cryptomus.SuccessURL,
		FailURL:       cfg.Cryptomus.FailURL,
		Timeout:       cfg.Cryptomus.Timeout,
	})
	provider := supplier.NewSeven11(supplier.Seven11Config{
		BaseURL:  cfg.Seven11.BaseURL,
		APIKey:   cfg.Seven11.APIKey,
		Username: cfg.Seven11.Username,
		Password: cfg.Seven11.Password,
		Timeout:  cfg.Seven11.Timeout,
	})

	publisher := events.NewPublisher(cfg.Kafka.Brokers)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close event publisher")
		}
	}()
	lifecycle := metrics.NewLifecycle()

	pendingTTL := time.Duration(cfg.Orders.PendingHours) * time.Hour
	orderService := order.NewService(orderRepo, catalogRepo, pendingTTL)
	checkoutService := checkout.NewService(
		orderService,
		cartRepo,
		purchaseRepo,
		catalogRepo,
		gateway,
		provider,
		publisher,
		lifecycle,
		checkout.Config{
			CallbackURL:  cfg.App.CallbackURL + "/api/v1/payments/webhook/cryptomus",
			PendingHours: cfg.Orders.PendingHours,
		},
	)

	sweeper := cron.New()
	err = sweeper.AddFunc(cfg.Orders.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := checkoutService.ExpireStale(ctx); err != nil {
			log.Error().Err(err).Msg("Expiry sweep failed")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid sweep schedule")
	}
	sweeper.Start()
	defer sweeper.Stop()

	router := handler.NewRouter(
		handler.NewOrderHandler(orderService, checkoutService),
		handler.NewCartHandler(cartRepo, catalogRepo),
		handler.NewPurchaseHandler(purchaseRepo),
		handler.NewPaymentHandler(checkoutService),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
