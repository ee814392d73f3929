package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/invoice-importer/internal/config"
	"github.com/kursadbilgin/invoice-importer/internal/handler"
	"github.com/kursadbilgin/invoice-importer/internal/infra/postgresql"
	"github.com/kursadbilgin/invoice-importer/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/invoice-importer/internal/infra/redis"
	"github.com/kursadbilgin/invoice-importer/internal/observability"
	"github.com/kursadbilgin/invoice-importer/internal/queue"
	"github.com/kursadbilgin/invoice-importer/internal/repository"
	"github.com/kursadbilgin/invoice-importer/internal/service"
	"github.com/kursadbilgin/invoice-importer/internal/storage"
	"github.com/kursadbilgin/invoice-importer/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "api")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, 0)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}
	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.JobRetryDelays)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer mq.Close()
	publisher := queue.NewRabbitMQPublisher(mq)

	files, err := storage.NewLocalStore(cfg.StorageDir)
	if err != nil {
		logger.Fatal("file storage initialization failed", zap.Error(err))
	}

	batches := repository.NewGormImportBatchRepo(db)
	importService, err := service.NewImportService(
		batches,
		repository.NewGormImportRowRepo(db),
		files,
		publisher,
		logger,
	)
	if err != nil {
		logger.Fatal("import service initialization failed", zap.Error(err))
	}

	scanner, err := service.NewPendingScanner(batches, publisher, cfg.PendingScanInterval, cfg.PendingScanAge, logger)
	if err != nil {
		logger.Fatal("pending scanner initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	app := fiber.New(fiber.Config{
		AppName:               "invoice-importer",
		BodyLimit:             cfg.MaxUploadBytes,
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(transport.RequestIDMiddleware())
	app.Use(metrics.HTTPMiddleware())
	handler.RegisterHealthRoutes(app, sqlDB, rdb, metrics.Handler())
	if err := handler.RegisterImportRoutes(app, importService); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("invoice-importer api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return scanner.Start(groupCtx)
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down api")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("api stopped with error", zap.Error(err))
	}
}
