package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"freshness-orders/internal/client"
	"freshness-orders/internal/clock"
	"freshness-orders/internal/config"
	"freshness-orders/internal/logger"
	"freshness-orders/internal/notify"
	"freshness-orders/internal/repository"
	"freshness-orders/internal/scheduler"
	"freshness-orders/internal/server"
	"freshness-orders/internal/service"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// load .env into os.Environ
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found (ok in prod)")
	}

	cfg := &config.Config{}
	if err := env.Parse(cfg); err != nil {
		fmt.Printf("Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewZapLog(cfg.Log)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := client.InitDB(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		log.Fatal("init database", zap.Error(err))
	}

	ctx := context.Background()
	clk := clock.Real{}

	orderRepo := repository.NewOrderRepository(db)
	productRepo := repository.NewProductRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	conflictRepo := repository.NewConflictRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	leaseRepo := repository.NewLeaseRepository(db)

	if cfg.Database.Seed {
		if err := productRepo.Seed(ctx); err != nil {
			log.Fatal("seed products", zap.Error(err))
		}
	}

	braintreeGateway := client.NewBraintreeGateway(&cfg.BrainTree)
	paypalGateway := client.NewPaypalGateway(&cfg.Paypal, cfg.BaseURL)
	revolutGateway := client.NewRevolutGateway(&cfg.Revolut)

	gateways := client.NewGateways().
		Register(client.MethodCard, braintreeGateway).
		Register(client.MethodWallet, paypalGateway).
		Register(client.MethodBankTransfer, revolutGateway)

	var notifier service.Notifier = notify.NewLogNotifier(log)
	if cfg.Notify.SQSQueueURL != "" {
		sqsNotifier, err := notify.NewSQSNotifierFromEnv(ctx, cfg.Notify.AWSRegion, cfg.Notify.SQSQueueURL)
		if err != nil {
			log.Fatal("init sqs notifier", zap.Error(err))
		}
		notifier = sqsNotifier
	}

	orderService := service.NewOrderService(db, orderRepo, ledgerRepo, productRepo, notifier, cfg.Payments.Currency, log)
	ledgerService := service.NewLedgerService(db, ledgerRepo, conflictRepo, orderService, clk, log)
	checkoutService := service.NewCheckoutService(orderService, ledgerService, gateways, cfg.Payments.GatewayTimeout, log)
	webhookService := service.NewWebhookService(
		[]client.WebhookVerifier{braintreeGateway, paypalGateway, revolutGateway},
		ledgerService,
		webhookEventRepo,
		clk,
		log,
	)
	subscriptionService := service.NewSubscriptionService(
		db, subscriptionRepo, orderRepo, productRepo, orderService,
		clk, cfg.Scheduler.BatchSize, cfg.Payments.Currency, log,
	)
	catalogService := service.NewCatalogService(productRepo)

	deliveryScheduler := scheduler.New(subscriptionService, leaseRepo, clk, cfg.Scheduler.Spec, cfg.Scheduler.LeaseTTL, log)
	if cfg.Scheduler.Enabled {
		if err := deliveryScheduler.Start(); err != nil {
			log.Fatal("start delivery scheduler", zap.Error(err))
		}
	}

	srv := server.NewServer(server.Services{
		Orders:        orderService,
		Checkout:      checkoutService,
		Ledger:        ledgerService,
		Webhooks:      webhookService,
		Subscriptions: subscriptionService,
		Catalog:       catalogService,
		Scheduler:     deliveryScheduler,
	}, log)

	serverAddr := cfg.HTTP.Host + ":" + cfg.HTTP.Port

	log.Info("Starting HTTP server", zap.String("addr", serverAddr), zap.String("env", cfg.Environment.Name))
	go func() {
		if err := srv.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	<-sigChan
	log.Info("Signal received, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := deliveryScheduler.Stop(shutdownCtx); err != nil {
		log.Error("delivery scheduler shutdown error", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
}
