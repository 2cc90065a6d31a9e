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

	"flowoms/config"
	"flowoms/internal/api"
	"flowoms/internal/broker"
	"flowoms/internal/magento"
	"flowoms/internal/models"
	"flowoms/internal/notify"
	"flowoms/internal/redisclient"
	"flowoms/internal/sla"
	"flowoms/internal/store"
	"flowoms/internal/syncsvc"
	"flowoms/internal/unpaid"
	"flowoms/internal/util"
	"flowoms/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting FlowOMS")

	tp, err := util.InitTracer("flowoms", cfg.Observ.JaegerEndpoint)
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

	signalProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSignals)
	defer signalProducer.Close()
	taskProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicTasks)
	defer taskProducer.Close()
	log.Println("Kafka producers initialized")

	sink := broker.NewKafkaSignalSink(signalProducer)
	taskQueue := broker.NewTaskQueue(taskProducer)

	magentoClient := magento.NewClient(magento.ClientConfig{
		BaseURL:      cfg.Magento.BaseURL,
		AccessToken:  cfg.Magento.AccessToken,
		Timeout:      cfg.Magento.RequestTimeout,
		MaxRetries:   cfg.Magento.MaxRetries,
		RetryBackoff: cfg.Magento.RetryBackoff,
	})

	parser := syncsvc.NewParser(magentoClient, magentoClient)
	calculator := sla.NewCalculator(db)
	syncService := syncsvc.NewService(db, parser, calculator, sink)
	syncJob := syncsvc.NewJob(db, magentoClient, syncService, sink, true)

	monitor := sla.NewMonitor(db, redisClient, sink)

	notifier := notify.NewClient(notify.ClientConfig{
		Env:              cfg.Server.Env,
		RequestTimeout:   cfg.Notify.RequestTimeout,
		RetryBackoff:     cfg.Notify.RetryBackoff,
		MaxBodyBytes:     cfg.Notify.MaxBodyBytes,
		BreakerThreshold: cfg.Notify.BreakerThreshold,
		BreakerCooldown:  cfg.Notify.BreakerCooldown,
	}, notify.NewRedisCounterStore(redisClient))

	warningJob := unpaid.NewWarningJob(db, notifier, sink)
	cancellationJob := unpaid.NewCancellationJob(db, magentoClient, notifier, sink)
	sweeper := unpaid.NewSweeper(db, taskQueue)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	taskConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicTasks, cfg.Kafka.ConsumerGroup)
	defer taskConsumer.Close()
	taskWorker := worker.NewTaskWorker(taskConsumer, syncJob, warningJob, cancellationJob)
	go func() {
		if err := taskWorker.Run(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Task worker error: %v", err)
		}
	}()

	scheduler := cron.New(cron.WithSeconds())

	if _, err := scheduler.AddFunc(cfg.Scheduler.SyncCron, func() {
		enqueueSyncBatches(workerCtx, db, taskQueue, cfg)
	}); err != nil {
		log.Fatalf("Failed to schedule order sync: %v", err)
	}

	if _, err := scheduler.AddFunc(cfg.Scheduler.SLAMonitorCron, func() {
		if err := monitor.RunOnce(workerCtx, time.Now()); err != nil {
			log.Printf("SLA sweep error: %v", err)
		}
	}); err != nil {
		log.Fatalf("Failed to schedule SLA monitor: %v", err)
	}

	if _, err := scheduler.AddFunc(cfg.Scheduler.UnpaidCron, func() {
		if err := sweeper.RunOnce(workerCtx, time.Now()); err != nil {
			log.Printf("Unpaid sweep error: %v", err)
		}
	}); err != nil {
		log.Fatalf("Failed to schedule unpaid sweep: %v", err)
	}

	scheduler.Start()
	defer scheduler.Stop()
	log.Println("Scheduler started")

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(db, magentoClient, taskQueue)
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

	log.Println("Server exited")
}

// enqueueSyncBatches queues one sync task per sync-enabled store.
func enqueueSyncBatches(ctx context.Context, db *store.Store, queue *broker.TaskQueue, cfg *config.Config) {
	targets, err := db.ListSyncTargets(ctx)
	if err != nil {
		log.Printf("Failed to list sync targets: %v", err)
		return
	}

	for _, target := range targets {
		task := &models.SyncRequestedTask{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.TaskTypeSyncRequested,
				TenantID:  target.TenantID,
				Timestamp: time.Now(),
			},
			StoreID:  target.StoreID,
			Days:     cfg.Scheduler.SyncWindowDays,
			PageSize: cfg.Scheduler.SyncPageSize,
		}
		if err := queue.Enqueue(ctx, fmt.Sprintf("store-%d", target.StoreID), task); err != nil {
			log.Printf("Failed to enqueue sync for store %d: %v", target.StoreID, err)
		}
	}

	if len(targets) > 0 {
		log.Printf("Enqueued %d sync batches", len(targets))
	}
}
