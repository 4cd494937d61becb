package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/partner-dispatch/api/controllers"
	"github.com/angelmondragon/partner-dispatch/api/middleware"
	"github.com/angelmondragon/partner-dispatch/internal/dispatch"
	"github.com/angelmondragon/partner-dispatch/internal/geo"
	"github.com/angelmondragon/partner-dispatch/internal/locations"
	"github.com/angelmondragon/partner-dispatch/pkg/config"
	"github.com/angelmondragon/partner-dispatch/pkg/db"
	"github.com/angelmondragon/partner-dispatch/pkg/enums"
	"github.com/angelmondragon/partner-dispatch/pkg/logger"
	"github.com/angelmondragon/partner-dispatch/pkg/metrics"
	pkgredis "github.com/angelmondragon/partner-dispatch/pkg/redis"
)

// redisStore is what the router needs from Redis: idempotency records plus a
// readiness ping.
type redisStore interface {
	pkgredis.IdempotencyStore
	pkgredis.Pinger
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient redisStore,
	gatherer prometheus.Gatherer,
	locationService locations.Service,
	geoEngine geo.Engine,
	dispatchService dispatch.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	ready := map[string]controllers.Pinger{}
	if dbP != nil {
		ready["db"] = dbP
	}
	if redisClient != nil {
		ready["redis"] = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, ready))
	})
	if gatherer != nil {
		r.Handle("/metrics", metrics.Handler(gatherer))
	}

	var idem pkgredis.IdempotencyStore
	if redisClient != nil {
		idem = redisClient
	}

	partner := enums.ActorRolePartner
	dispatcher := enums.ActorRoleDispatcher
	admin := enums.ActorRoleAdmin
	service := enums.ActorRoleService

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idem, cfg.Dispatch.IdempotencyTTL, logg))

		r.Route("/partners", func(r chi.Router) {
			r.With(middleware.RequireRoles(logg, dispatcher, admin)).
				Get("/online", controllers.ListOnlinePartners(locationService, logg))
			r.Route("/{partnerId}", func(r chi.Router) {
				r.With(middleware.RequireRoles(logg, partner, service)).
					Put("/location", controllers.UpdatePartnerLocation(locationService, logg))
				r.With(middleware.RequireRoles(logg, dispatcher, admin, service)).
					Get("/location", controllers.GetPartnerLocation(locationService, logg))
				r.With(middleware.RequireRoles(logg, dispatcher, admin)).
					Get("/history", controllers.ListPartnerHistory(locationService, logg))
				r.With(middleware.RequireRoles(logg, partner, dispatcher, admin)).
					Get("/assignments", controllers.ListPartnerAssignments(dispatchService, logg))
			})
		})

		r.With(middleware.RequireRoles(logg, dispatcher, admin, service)).
			Get("/geo/nearby", controllers.FindNearbyPartners(geoEngine, cfg.Dispatch.DefaultRadiusKm, logg))

		r.Route("/assignments", func(r chi.Router) {
			r.With(middleware.RequireRoles(logg, dispatcher, service)).
				Post("/auto", controllers.AutoAssign(dispatchService, logg))
			r.With(middleware.RequireRoles(logg, admin, dispatcher)).
				Post("/manual", controllers.ManualAssign(dispatchService, logg))

			r.Route("/orders/{orderId}", func(r chi.Router) {
				r.Get("/", controllers.GetAssignmentByOrder(dispatchService, logg))
				r.With(middleware.RequireRoles(logg, service)).
					Post("/complete", controllers.CompleteAssignment(dispatchService, logg))
			})

			r.Route("/{assignmentId}", func(r chi.Router) {
				r.With(middleware.RequireRoles(logg, partner)).
					Post("/accept", controllers.AcceptAssignment(dispatchService, logg))
				r.With(middleware.RequireRoles(logg, partner)).
					Post("/reject", controllers.RejectAssignment(dispatchService, logg))
				r.With(middleware.RequireRoles(logg, dispatcher, service)).
					Post("/redispatch", controllers.RedispatchAssignment(dispatchService, logg))
			})
		})
	})

	return r
}
