package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/partner-dispatch/internal/analytics/writer"
	"github.com/angelmondragon/partner-dispatch/internal/consumers"
	analyticsconsumer "github.com/angelmondragon/partner-dispatch/internal/consumers/analytics"
	"github.com/angelmondragon/partner-dispatch/internal/consumers/delivery"
	"github.com/angelmondragon/partner-dispatch/internal/dispatch"
	"github.com/angelmondragon/partner-dispatch/internal/geo"
	"github.com/angelmondragon/partner-dispatch/internal/locations"
	"github.com/angelmondragon/partner-dispatch/pkg/bigquery"
	"github.com/angelmondragon/partner-dispatch/pkg/config"
	"github.com/angelmondragon/partner-dispatch/pkg/db"
	"github.com/angelmondragon/partner-dispatch/pkg/env"
	"github.com/angelmondragon/partner-dispatch/pkg/logger"
	"github.com/angelmondragon/partner-dispatch/pkg/metrics"
	"github.com/angelmondragon/partner-dispatch/pkg/migrate"
	"github.com/angelmondragon/partner-dispatch/pkg/outbox"
	"github.com/angelmondragon/partner-dispatch/pkg/outbox/idempotency"
	"github.com/angelmondragon/partner-dispatch/pkg/pubsub"
	"github.com/angelmondragon/partner-dispatch/pkg/redis"
)

const serviceName = "worker"

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
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "instance": env.Get("HOSTNAME", "worker-0")})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer pubsubClient.Close()

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap bigquery", err)
		os.Exit(1)
	}
	defer bqClient.Close()

	reg := prometheus.NewRegistry()
	dispatchService, err := buildDispatch(cfg, logg, dbClient, redisClient, metrics.NewDispatchMetrics(reg))
	if err != nil {
		logg.Error(ctx, "failed to create dispatch service", err)
		os.Exit(1)
	}

	guard, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		logg.Error(ctx, "failed to create idempotency manager", err)
		os.Exit(1)
	}

	deliveryHandler, err := delivery.NewHandler(dispatchService, logg)
	if err != nil {
		logg.Error(ctx, "failed to create delivery handler", err)
		os.Exit(1)
	}
	deliverySub, err := consumers.NewSubscriber(consumers.SubscriberParams{
		Name:         delivery.ConsumerName,
		Subscription: pubsubClient.DeliverySubscriber(),
		Handler:      deliveryHandler,
		Idempotency:  guard,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create delivery subscriber", err)
		os.Exit(1)
	}

	rowWriter, err := writer.New(bqClient, cfg.BigQuery.AssignmentsTable, writer.RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 200 * time.Millisecond,
		MaximumBackoff: 5 * time.Second,
	})
	if err != nil {
		logg.Error(ctx, "failed to create bigquery writer", err)
		os.Exit(1)
	}
	analyticsHandler, err := analyticsconsumer.NewHandler(rowWriter, logg)
	if err != nil {
		logg.Error(ctx, "failed to create analytics handler", err)
		os.Exit(1)
	}
	analyticsSub, err := consumers.NewSubscriber(consumers.SubscriberParams{
		Name:         analyticsconsumer.ConsumerName,
		Subscription: pubsubClient.AnalyticsSubscriber(),
		Handler:      analyticsHandler,
		Idempotency:  guard,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create analytics subscriber", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Logger: logg,
		Dependencies: map[string]pinger{
			"database": dbClient,
			"redis":    redisClient,
			"pubsub":   pubsubClient,
			"bigquery": bqClient,
		},
		Consumers: []consumer{deliverySub, analyticsSub},
	})
	if err != nil {
		logg.Error(ctx, "failed to create worker service", err)
		os.Exit(1)
	}

	go metrics.Serve(ctx, ":"+env.First(cfg.App.Port, "PORT"), reg, logg)

	logg.Info(ctx, "starting worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}

// buildDispatch wires the orchestrator the delivery consumer completes
// assignments through.
func buildDispatch(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, m *metrics.DispatchMetrics) (dispatch.Service, error) {
	locationRepo := locations.NewRepository(dbClient.DB())
	locationService, err := locations.NewService(locationRepo, dbClient, m)
	if err != nil {
		return nil, err
	}
	engine, err := geo.NewEngine(locationRepo, geo.WithAverageSpeed(cfg.Dispatch.AverageSpeedKmh), geo.WithObserver(m))
	if err != nil {
		return nil, err
	}
	reservations, err := dispatch.NewRedisReservations(redisClient, cfg.Dispatch.ReservationTTL)
	if err != nil {
		return nil, err
	}
	return dispatch.NewService(dispatch.ServiceParams{
		Repository:      dispatch.NewRepository(dbClient.DB()),
		TX:              dbClient,
		Outbox:          outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Geo:             engine,
		Locator:         locationService,
		Reservations:    reservations,
		Observer:        m,
		Logger:          logg,
		DefaultRadiusKm: cfg.Dispatch.DefaultRadiusKm,
		AverageSpeedKmh: cfg.Dispatch.AverageSpeedKmh,
		GeoTimeout:      cfg.Dispatch.GeoTimeout,
	})
}
