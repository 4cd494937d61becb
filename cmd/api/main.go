package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/partner-dispatch/api/routes"
	"github.com/angelmondragon/partner-dispatch/internal/dispatch"
	"github.com/angelmondragon/partner-dispatch/internal/geo"
	"github.com/angelmondragon/partner-dispatch/internal/locations"
	"github.com/angelmondragon/partner-dispatch/pkg/config"
	"github.com/angelmondragon/partner-dispatch/pkg/db"
	"github.com/angelmondragon/partner-dispatch/pkg/env"
	"github.com/angelmondragon/partner-dispatch/pkg/logger"
	"github.com/angelmondragon/partner-dispatch/pkg/metrics"
	"github.com/angelmondragon/partner-dispatch/pkg/migrate"
	"github.com/angelmondragon/partner-dispatch/pkg/outbox"
	"github.com/angelmondragon/partner-dispatch/pkg/redis"
)

const serviceName = "api"

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
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	dispatchMetrics := metrics.NewDispatchMetrics(reg)

	locationRepo := locations.NewRepository(dbClient.DB())
	locationService, err := locations.NewService(locationRepo, dbClient, dispatchMetrics)
	if err != nil {
		logg.Error(ctx, "failed to create location service", err)
		os.Exit(1)
	}

	geoEngine, err := geo.NewEngine(locationRepo,
		geo.WithAverageSpeed(cfg.Dispatch.AverageSpeedKmh),
		geo.WithObserver(dispatchMetrics),
	)
	if err != nil {
		logg.Error(ctx, "failed to create geo engine", err)
		os.Exit(1)
	}

	reservations, err := dispatch.NewRedisReservations(redisClient, cfg.Dispatch.ReservationTTL)
	if err != nil {
		logg.Error(ctx, "failed to create reservations", err)
		os.Exit(1)
	}

	dispatchService, err := dispatch.NewService(dispatch.ServiceParams{
		Repository:      dispatch.NewRepository(dbClient.DB()),
		TX:              dbClient,
		Outbox:          outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Geo:             geoEngine,
		Locator:         locationService,
		Reservations:    reservations,
		Observer:        dispatchMetrics,
		Logger:          logg,
		DefaultRadiusKm: cfg.Dispatch.DefaultRadiusKm,
		AverageSpeedKmh: cfg.Dispatch.AverageSpeedKmh,
		GeoTimeout:      cfg.Dispatch.GeoTimeout,
	})
	if err != nil {
		logg.Error(ctx, "failed to create dispatch service", err)
		os.Exit(1)
	}

	addr := ":" + env.First(cfg.App.Port, "PORT")
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": env.Get("HOSTNAME", "local"),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, reg, locationService, geoEngine, dispatchService),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down")
}
