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

	"catalog-sync/config"
	"catalog-sync/internal/api"
	"catalog-sync/internal/broker"
	"catalog-sync/internal/feed"
	"catalog-sync/internal/redisclient"
	"catalog-sync/internal/service"
	"catalog-sync/internal/store"
	"catalog-sync/internal/util"
	"catalog-sync/internal/worker"

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
	logger.Info("Starting catalog sync service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSync)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicSync))

	eventPublisher := broker.NewEventPublisher(producer)

	syncService := service.NewSyncService(db, db, db, eventPublisher, redisClient, service.Options{
		BatchSize:             cfg.Sync.BatchSize,
		FeedTimeout:           cfg.Sync.FeedTimeout,
		LockTTL:               cfg.Sync.LockTTL,
		Actor:                 cfg.Sync.Actor,
		PriceSourceName:       cfg.Sync.PriceSourceName,
		ProductTypeID:         cfg.Sync.ProductTypeID,
		SynchronizationRuleID: cfg.Sync.SynchronizationRuleID,
		Feed: feed.Options{
			Delimiter: cfg.Sync.FeedDelimiter,
			Encoding:  cfg.Sync.FeedEncoding,
		},
		ImageStoragePath: cfg.Sync.ImageStoragePath,
		ImagePublicRoot:  cfg.Sync.ImagePublicRoot,
		ThumbnailWidth:   cfg.Sync.ThumbnailWidth,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	syncConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicSync, cfg.Kafka.ConsumerGroup)
	syncWorker := worker.NewSyncWorker(syncConsumer, syncService, redisClient)
	go func() {
		if err := syncWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Sync worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(syncService, eventPublisher, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	})
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
	if err := syncWorker.Stop(); err != nil {
		logger.Warn("Error stopping sync worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
