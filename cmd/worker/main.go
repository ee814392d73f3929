package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/invoice-importer/internal/config"
	"github.com/kursadbilgin/invoice-importer/internal/domain"
	"github.com/kursadbilgin/invoice-importer/internal/handler"
	"github.com/kursadbilgin/invoice-importer/internal/importer"
	"github.com/kursadbilgin/invoice-importer/internal/infra/postgresql"
	"github.com/kursadbilgin/invoice-importer/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/invoice-importer/internal/infra/redis"
	"github.com/kursadbilgin/invoice-importer/internal/notify"
	"github.com/kursadbilgin/invoice-importer/internal/observability"
	"github.com/kursadbilgin/invoice-importer/internal/queue"
	"github.com/kursadbilgin/invoice-importer/internal/repository"
	"github.com/kursadbilgin/invoice-importer/internal/retry"
	"github.com/kursadbilgin/invoice-importer/internal/service"
	"github.com/kursadbilgin/invoice-importer/internal/storage"
	"github.com/kursadbilgin/invoice-importer/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "worker")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, cfg.WorkerConcurrency+4)
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

	files, err := storage.NewLocalStore(cfg.StorageDir)
	if err != nil {
		logger.Fatal("file storage initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	runner, err := newJobRunner(cfg, db, files, logger, metrics)
	if err != nil {
		logger.Fatal("importer initialization failed", zap.Error(err))
	}

	jobPolicy := retry.Schedule(cfg.JobMaxAttempts, cfg.JobRetryDelays...)
	consumer := queue.NewRabbitMQConsumer(mq, queue.NewRabbitMQPublisher(mq), jobPolicy, cfg.WorkerPrefetch, logger)
	consumer.SetMetrics(metrics)

	notifier, err := newNotifier(cfg.NotifyWebhookURL)
	if err != nil {
		logger.Fatal("notifier initialization failed", zap.Error(err))
	}

	locker, err := infraredis.NewBatchLocker(rdb)
	if err != nil {
		logger.Fatal("batch locker initialization failed", zap.Error(err))
	}

	worker, err := service.NewWorkerService(
		runner,
		consumer,
		locker,
		notifier,
		service.WorkerOptions{
			Concurrency: cfg.WorkerConcurrency,
			LeaseTTL:    cfg.BatchLockTTL,
			MaxAttempts: cfg.JobMaxAttempts,
		},
		logger,
	)
	if err != nil {
		logger.Fatal("worker service initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "invoice-importer-worker",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	handler.RegisterHealthRoutes(app, sqlDB, rdb, metrics.Handler())

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("invoice-importer worker started",
			zap.Int("concurrency", cfg.WorkerConcurrency),
			zap.Int("httpPort", cfg.WorkerHTTPPort),
		)
		return worker.Start(groupCtx)
	})
	g.Go(func() error {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.WorkerHTTPPort)); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down worker")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", zap.Error(err))
	}
}

func newJobRunner(
	cfg *config.Config,
	db *gorm.DB,
	files *storage.LocalStore,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*importer.JobRunner, error) {
	validator, err := importer.NewValidator(domain.InvoiceStatus(cfg.DefaultInvoiceStatus))
	if err != nil {
		return nil, err
	}

	applier, err := importer.NewRowApplier(
		repository.NewGormImportStore(db),
		retry.Fixed(cfg.RowRetryAttempts, cfg.RowRetryDelay, repository.IsTransient),
		logger,
	)
	if err != nil {
		return nil, err
	}

	batches := repository.NewGormImportBatchRepo(db)
	controller, err := importer.NewBatchController(
		batches,
		repository.NewGormImportRowRepo(db),
		files,
		validator,
		applier,
		logger,
	)
	if err != nil {
		return nil, err
	}
	controller.SetMetrics(metrics)

	runner, err := importer.NewJobRunner(batches, controller, logger)
	if err != nil {
		return nil, err
	}
	runner.SetMetrics(metrics)
	return runner, nil
}

func newNotifier(webhookURL string) (notify.Notifier, error) {
	if strings.TrimSpace(webhookURL) == "" {
		return notify.Nop{}, nil
	}
	return notify.NewWebhookNotifier(webhookURL)
}
