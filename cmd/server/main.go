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

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/broker"
	"checkout-service/internal/gateway"
	"checkout-service/internal/jobs"
	"checkout-service/internal/notify"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/store/memstore"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const inProcessQueueSize = 256

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting checkout service")

	if cfg.Observ.TracingEnabled {
		tp, err := util.InitTracer("checkout-service", cfg.Observ.JaegerEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Warn("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	repo, err := openRepository(cfg)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer repo.Close()

	var (
		locker service.Locker
		cache  service.IdempotencyCache
	)
	if cfg.Redis.Enabled {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		locker, cache = redisClient, redisClient
		logger.Info("Redis connected")
	}

	runner, err := jobs.NewRunner(
		jobs.WithMaxAttempts(cfg.Business.JobMaxAttempts),
		jobs.WithBaseDelay(cfg.Business.JobRetryBaseDelay),
	)
	if err != nil {
		logger.Fatal("Invalid job runner settings", zap.Error(err))
	}
	service.NewJobHandlers(repo, notify.NewLogSender()).Register(runner)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	// jobs go to Kafka and come back through the job worker, or straight
	// into an in-process pool
	var (
		publisher jobs.Publisher
		pool      *jobs.Pool
		jobWorker *worker.JobWorker
	)
	switch cfg.Kafka.Transport {
	case "inprocess":
		pool = jobs.NewPool(runner, cfg.Business.InProcessJobWorkers, inProcessQueueSize)
		pool.Start(workerCtx)
		publisher = pool
	default:
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicJobs)
		defer producer.Close()
		publisher = broker.NewJobPublisher(producer)

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicJobs, cfg.Kafka.ConsumerGroup)
		jobWorker = worker.NewJobWorker(consumer, runner)
		go func() {
			if err := jobWorker.Start(workerCtx); err != nil {
				logger.Error("Job worker error", zap.Error(err))
			}
		}()
		logger.Info("Kafka job transport initialized", zap.String("topic", cfg.Kafka.TopicJobs))
	}

	relay := jobs.NewRelay(repo, publisher, cfg.Business.OutboxBatchSize)
	relayWorker := worker.NewRelayWorker(relay, cfg.Business.OutboxPollInterval)
	go relayWorker.Start(workerCtx)

	gw := gateway.NewClient(gateway.Config{
		BaseURL:    cfg.Gateway.BaseURL,
		MerchantID: cfg.Gateway.MerchantID,
		Timeout:    cfg.Gateway.Timeout,
	})

	watcher := service.NewStockWatcher(publisher, cfg.Business.LowStockThreshold)
	orderService := service.NewOrderService(repo, watcher)
	services := api.Services{
		Cart: service.NewCartService(repo),
		Checkout: service.NewCheckoutService(repo, watcher, locker, cache, service.CheckoutConfig{
			Provider:       cfg.Gateway.Provider,
			IdempotencyTTL: cfg.Business.IdempotencyKeyTTL,
		}),
		Orders: orderService,
		Payments: service.NewPaymentService(repo, orderService, gw, locker, service.PaymentConfig{
			Multiplier:  cfg.Gateway.AmountMultiplier(),
			CallbackURL: cfg.Gateway.CallbackURL(),
			LockTTL:     cfg.Business.VerifyLockTTL,
		}),
		Inventory: service.NewInventoryService(repo, watcher),
	}

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty; every authenticated route will answer 401")
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(services, api.NewIdentity(cfg.Auth.JWTSecret))
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	if err := watcher.Close(shutdownCtx); err != nil {
		logger.Warn("Low stock alerts still in flight", zap.Error(err))
	}
	if err := relayWorker.Stop(shutdownCtx); err != nil {
		logger.Warn("Relay worker did not stop", zap.Error(err))
	}
	if pool != nil {
		if err := pool.Stop(shutdownCtx); err != nil {
			logger.Warn("Job pool did not drain", zap.Error(err))
		}
	}

	workerCancel()
	if jobWorker != nil {
		if err := jobWorker.Stop(); err != nil {
			logger.Warn("Job worker did not stop cleanly", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

func openRepository(cfg *config.Config) (store.Repository, error) {
	logger := util.GetLogger()

	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory store; data is lost on restart")
		return memstore.New(), nil
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("Database connected")
	return db, nil
}
