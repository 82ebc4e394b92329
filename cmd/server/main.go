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

	"commerce-core/config"
	"commerce-core/internal/api"
	"commerce-core/internal/broker"
	"commerce-core/internal/loyalty"
	"commerce-core/internal/order"
	"commerce-core/internal/pricing"
	"commerce-core/internal/redisclient"
	"commerce-core/internal/store"
	"commerce-core/internal/util"
	"commerce-core/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting commerce core")

	tp, err := util.InitTracer("commerce-core", cfg.Observ.JaegerEndpoint)
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

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	policy := pricing.NewPolicy(
		pricing.DefaultRate,
		cfg.Business.Coupons,
		cfg.Business.FreeShippingThreshold,
		cfg.Business.FlatShippingFee,
	)

	grantStore := loyalty.NewClaimedGrantStore(redisClient, db, 0)
	ledger := loyalty.NewLedger(grantStore, util.NamedLogger("loyalty"))

	lifecycle := order.NewLifecycle(
		db, db, policy, ledger, eventPublisher,
		cfg.Business.PointsDivisor,
		util.NamedLogger("order"),
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	auditConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
	auditWorker := worker.NewAuditWorker(auditConsumer, db)
	go func() {
		if err := auditWorker.Start(workerCtx); err != nil {
			log.Printf("Audit worker error: %v", err)
		}
	}()

	// Periodic demand-multiplier refresh for UI previews. Lives outside the
	// pricing policy and never touches an already-frozen order.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case now := <-ticker.C:
				ctx, cancel := context.WithTimeout(workerCtx, 5*time.Second)
				if err := redisClient.CacheMultiplier(ctx, policy.Multiplier(now).String(), 2*time.Minute); err != nil {
					log.Printf("Failed to cache multiplier: %v", err)
				}
				cancel()
			}
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	sessions := api.NewSessionCarts(eventPublisher)
	lockTTL := time.Duration(cfg.Business.CheckoutLockSeconds) * time.Second

	router := gin.Default()
	handler := api.NewHandler(sessions, lifecycle, ledger, policy, db, redisClient, lockTTL)
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
	auditWorker.Stop()

	log.Println("Server exited")
}
