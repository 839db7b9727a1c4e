package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"restaurant-pos/config"
	"restaurant-pos/internal/api"
	"restaurant-pos/internal/broker"
	"restaurant-pos/internal/redisclient"
	"restaurant-pos/internal/service"
	"restaurant-pos/internal/store"
	"restaurant-pos/internal/util"
	"restaurant-pos/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(util.LogOptions{Env: cfg.Server.Env, File: cfg.Observ.LogFile}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting restaurant POS", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer(util.TracingOptions{
		ServiceName: "restaurant-pos",
		Env:         cfg.Server.Env,
		Endpoint:    cfg.Observ.JaegerEndpoint,
		SampleRatio: cfg.Observ.SampleRatio,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	db.SetTxTimeout(cfg.Database.TxTimeout)

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	var (
		stockCache service.StockCache        = service.NopCache{}
		boardCache service.KitchenBoardCache = service.NopCache{}
	)
	if cfg.Redis.Enabled {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Business.KitchenBoardTTL)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		stockCache, boardCache = redisClient, redisClient
		logger.Info("Redis connected")
	}

	var publisher service.EventPublisher = service.NopPublisher{}
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicEvents))
	}

	retry := service.RetryPolicy{MaxRetries: cfg.Database.MaxRetries, Backoff: service.DefaultRetryPolicy.Backoff}
	ledger := service.NewStockLedger(db, stockCache, publisher, retry)
	shifts := service.NewShiftAccount(db, publisher)
	kitchen := service.NewKitchenWorkflow(db, boardCache, publisher, retry)
	tables := service.NewTableOccupancy(db, retry)
	held := service.NewHeldOrderStore(db, cfg.Business.HeldOrderTTL)
	sales := service.NewSaleService(db, ledger, shifts, kitchen, tables, held, publisher, service.SaleOptions{
		ReceiptPrefix:  cfg.Business.ReceiptPrefix,
		TotalTolerance: cfg.Business.TotalTolerance,
		Location:       cfg.Business.Location,
		Retry:          retry,
	})

	if cfg.Business.TablesFile != "" {
		seeds, err := config.LoadTables(cfg.Business.TablesFile)
		if err != nil {
			logger.Fatal("Failed to load table layout", zap.Error(err))
		}
		for _, seed := range seeds {
			if err := tables.Seed(ctx, seed.Number, seed.Capacity); err != nil {
				logger.Fatal("Failed to seed table", zap.String("table", seed.Number), zap.Error(err))
			}
		}
		logger.Info("Tables seeded", zap.Int("count", len(seeds)))
	}

	scheduler, err := worker.NewScheduler(worker.ScheduleSpec{
		StockResync: cfg.Scheduler.StockResyncSpec,
		HeldPurge:   cfg.Scheduler.HeldPurgeSpec,
		Reconcile:   cfg.Scheduler.ReconcileSpec,
		Workers:     cfg.Scheduler.Workers,
		Location:    cfg.Business.Location,
	}, db, ledger, held)
	if err != nil {
		logger.Fatal("Failed to create scheduler", zap.Error(err))
	}
	if cfg.Redis.Enabled {
		if err := scheduler.ResyncStockCache(ctx); err != nil {
			logger.Warn("Failed to sync stock to Redis", zap.Error(err))
		}
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Sales:    sales,
		Ledger:   ledger,
		Kitchen:  kitchen,
		Shifts:   shifts,
		Tables:   tables,
		Auth:     api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Disabled),
		Ready:    db,
		Location: cfg.Business.Location,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Kafka.Enabled {
		boardWorker := worker.NewKitchenBoardWorker(
			broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup+"-kitchen-board"),
			kitchen,
		)
		alertWorker := worker.NewStockAlertWorker(
			broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup+"-alerts"),
		)
		defer boardWorker.Stop()
		defer alertWorker.Stop()

		g.Go(func() error { return consume(gctx, boardWorker.Start) })
		g.Go(func() error { return consume(gctx, alertWorker.Start) })
	}

	scheduler.Start()

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		scheduler.Stop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		return
	}
	logger.Info("Server exited")
}

// consume runs a worker until ctx ends. A worker stopping on cancellation is
// a clean exit.
func consume(ctx context.Context, start func(context.Context) error) error {
	if err := start(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
