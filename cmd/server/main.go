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

	"tableside/config"
	"tableside/internal/api"
	"tableside/internal/broker"
	"tableside/internal/db"
	"tableside/internal/payment"
	"tableside/internal/realtime"
	"tableside/internal/redisclient"
	"tableside/internal/service"
	"tableside/internal/store"
	"tableside/internal/util"
	"tableside/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting tableside order service")

	tp, err := util.InitTracer("tableside", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	database, err := db.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Printf("Database ready (engine=%s)", database.Driver())

	// Redis is best-effort: the service runs without the cache.
	var cache service.Cache
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Printf("Redis unavailable, tracking cache disabled: %v", err)
	} else {
		defer redisClient.Close()
		cache = redisClient
		log.Println("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	eventPublisher := broker.NewEventPublisher(producer)
	log.Println("Kafka producer initialized")

	hub := realtime.NewHub()
	gateway := payment.NewStripeClient(cfg.Stripe.SecretKey, cfg.Stripe.BaseURL)
	orderStore := store.New(database, cfg.Business.OrderPrefix)
	orderService := service.NewOrderService(
		orderStore,
		gateway,
		hub,
		eventPublisher,
		cache,
		cfg.Business.Currency,
		cfg.Business.DefaultPrepMinutes,
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	reconcileWorker := worker.NewReconcileWorker(consumer, orderService)
	go func() {
		if err := reconcileWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			log.Printf("Reconcile worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(
		orderService,
		hub,
		eventPublisher,
		cfg.Stripe.WebhookSecret,
		cfg.Business.OrderRateLimitRPS,
		cfg.Business.OrderRateBurst,
	)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	if err := reconcileWorker.Stop(); err != nil {
		log.Printf("Error stopping reconcile worker: %v", err)
	}

	log.Println("Server exited")
}
