package controllers

import (
	"net/http"

	"github.com/angelmondragon/partner-dispatch/api/responses"
	"github.com/angelmondragon/partner-dispatch/api/validators"
	"github.com/angelmondragon/partner-dispatch/internal/geo"
	"github.com/angelmondragon/partner-dispatch/pkg/logger"
)

// FindNearbyPartners answers ?lat&lng&radius_km with candidates sorted by
// distance. radius_km falls back to defaultRadiusKm.
func FindNearbyPartners(engine geo.Engine, defaultRadiusKm float64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lat, err := validators.ParseQueryFloat(r, "lat", true)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lng, err := validators.ParseQueryFloat(r, "lng", true)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		radius, err := validators.ParseQueryFloat(r, "radius_km", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		radiusKm := defaultRadiusKm
		if radius != nil {
			radiusKm = *radius
		}

		partners, err := engine.FindNearby(r.Context(), *lat, *lng, radiusKm)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, partners)
	}
}
