package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rental-order-service/config"
	"rental-order-service/internal/api"
	"rental-order-service/internal/broker"
	"rental-order-service/internal/models"
	"rental-order-service/internal/paypal"
	"rental-order-service/internal/redisclient"
	"rental-order-service/internal/service"
	"rental-order-service/internal/store"
	"rental-order-service/internal/util"
	"rental-order-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting rental order service")

	tp, err := util.InitTracer(util.TracingConfig{
		Endpoint:    cfg.Observ.JaegerEndpoint,
		Environment: cfg.Server.Env,
		SampleRatio: cfg.Observ.TraceSampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		logger.Info("Database migrated")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	eventPublisher := broker.NewEventPublisher(producer)

	paypalClient := paypal.NewClient(paypal.Config{
		Environment: cfg.Paypal.Environment,
		APIVersion:  cfg.Paypal.APIVersion,
		Credentials: paypal.Credentials{
			Username:  cfg.Paypal.Username,
			Password:  cfg.Paypal.Password,
			Signature: cfg.Paypal.Signature,
		},
		Currency: cfg.Business.DefaultCurrency,
		Timeout:  cfg.Paypal.Timeout,
	})

	catalog := service.NewCatalogClient(db, redisClient, cfg.Business.CatalogCacheTTL)
	// credit orders are refunded on the social platform, not here
	refunds := service.RefundGateways{models.PaymentMethodPaypal: paypalClient}
	orderService := service.NewOrderService(db, catalog, refunds, eventPublisher, cfg.Business.DefaultCurrency)
	reconciler := service.NewReconciler(orderService, db, redisClient, cfg.Business.CallbackLockTTL)
	checkout := service.NewCheckoutService(orderService, catalog, db, paypalClient, cfg.Server.BaseURL)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	callbackConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCallbacks, cfg.Kafka.ConsumerGroup)
	callbackWorker := worker.NewCallbackWorker(callbackConsumer, reconciler)
	go func() {
		if err := callbackWorker.Start(workerCtx); err != nil {
			logger.Error("Callback worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(orderService, checkout, reconciler, db, db, redisClient)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := callbackWorker.Stop(); err != nil {
		logger.Error("Failed to stop callback worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
