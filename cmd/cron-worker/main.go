package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/partner-dispatch/internal/archive"
	"github.com/angelmondragon/partner-dispatch/internal/cron"
	"github.com/angelmondragon/partner-dispatch/internal/locations"
	"github.com/angelmondragon/partner-dispatch/pkg/config"
	"github.com/angelmondragon/partner-dispatch/pkg/db"
	"github.com/angelmondragon/partner-dispatch/pkg/env"
	"github.com/angelmondragon/partner-dispatch/pkg/logger"
	"github.com/angelmondragon/partner-dispatch/pkg/metrics"
	"github.com/angelmondragon/partner-dispatch/pkg/migrate"
	"github.com/angelmondragon/partner-dispatch/pkg/outbox"
	"github.com/angelmondragon/partner-dispatch/pkg/redis"
	"github.com/angelmondragon/partner-dispatch/pkg/storage/s3"
)

const serviceName = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	reg := prometheus.NewRegistry()
	dispatchMetrics := metrics.NewDispatchMetrics(reg)

	lock, err := cron.NewRedisLock(redisClient, lockName(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		os.Exit(1)
	}

	jobs, err := buildJobs(ctx, cfg, logg, dbClient, dispatchMetrics)
	if err != nil {
		logg.Error(ctx, "failed to build cron jobs", err)
		os.Exit(1)
	}
	registry, err := cron.NewRegistry(jobs...)
	if err != nil {
		logg.Error(ctx, "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	go metrics.Serve(ctx, ":"+env.First(cfg.App.Port, "PORT"), reg, logg)

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildJobs(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, m *metrics.DispatchMetrics) ([]cron.Job, error) {
	locationRepo := locations.NewRepository(dbClient.DB())
	locationService, err := locations.NewService(locationRepo, dbClient, m)
	if err != nil {
		return nil, err
	}

	outboxJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outbox.NewRepository(dbClient.DB()),
		Retention:   cfg.Eventing.OutboxRetention,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	staleJob, err := cron.NewStalePartnerJob(cron.StalePartnerJobParams{
		Logger:     logg,
		Locations:  locationService,
		StaleAfter: cfg.Locations.StaleAfter,
	})
	if err != nil {
		return nil, err
	}

	jobs := []cron.Job{outboxJob, staleJob}

	dest, stream, err := archiveDestination(ctx, cfg.Archive, logg)
	if err != nil {
		return nil, err
	}
	if dest == nil {
		logg.Info(ctx, "location history export disabled")
		return jobs, nil
	}
	archiver, err := archive.NewArchiver(archive.Params{
		Logger:      logg,
		Store:       locationRepo,
		Watermarks:  archive.NewWatermarkRepository(dbClient.DB()),
		Destination: dest,
		Stream:      stream,
		ExportLag:   cfg.Locations.HistoryExportLag,
		BatchSize:   cfg.Locations.HistoryBatchSize,
	})
	if err != nil {
		return nil, err
	}
	historyJob, err := cron.NewLocationHistoryJob(cron.LocationHistoryJobParams{
		Logger:   logg,
		Archiver: archiver,
	})
	if err != nil {
		return nil, err
	}

	return append(jobs, historyJob), nil
}

// archiveDestination picks where history is copied: a local directory when
// configured, S3 when archiving is enabled, otherwise nil. The returned stream
// keys the export watermark so each destination tracks its own progress.
func archiveDestination(ctx context.Context, cfg config.ArchiveConfig, logg *logger.Logger) (archive.Destination, string, error) {
	if dir := strings.TrimSpace(cfg.LocalDir); dir != "" {
		return archive.NewLocalDestination(dir), "local:" + dir, nil
	}
	if !cfg.Enabled {
		return nil, "", nil
	}
	client, err := s3.NewClient(ctx, cfg, logg)
	if err != nil {
		return nil, "", err
	}
	if err := client.Ping(ctx); err != nil {
		return nil, "", err
	}
	return archive.NewS3Destination(client), "s3:" + cfg.Bucket + "/" + cfg.Prefix, nil
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return serviceName + ":" + env
}
