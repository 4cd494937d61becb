package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/partner-dispatch/api/responses"
	"github.com/angelmondragon/partner-dispatch/api/validators"
	"github.com/angelmondragon/partner-dispatch/internal/locations"
	"github.com/angelmondragon/partner-dispatch/pkg/logger"
)

type updateLocationRequest struct {
	Latitude          *float64   `json:"lat" validate:"required"`
	Longitude         *float64   `json:"lng" validate:"required"`
	Speed             *float64   `json:"speed"`
	Heading           *float64   `json:"heading"`
	Accuracy          *float64   `json:"accuracy"`
	IsMoving          *bool      `json:"is_moving"`
	IsOnline          *bool      `json:"is_online"`
	CurrentDeliveryID *uuid.UUID `json:"current_delivery_id"`
}

// UpdatePartnerLocation records a position ping.
func UpdatePartnerLocation(svc locations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partnerID, err := validators.ParseUUIDParam(r, "partnerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := ensurePartnerSelf(actor, partnerID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body updateLocationRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snap, err := svc.UpdateLocation(r.Context(), locations.UpdateLocationInput{
			PartnerID:         partnerID,
			Latitude:          body.Latitude,
			Longitude:         body.Longitude,
			Speed:             body.Speed,
			Heading:           body.Heading,
			Accuracy:          body.Accuracy,
			IsMoving:          body.IsMoving,
			IsOnline:          body.IsOnline,
			CurrentDeliveryID: body.CurrentDeliveryID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

func GetPartnerLocation(svc locations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partnerID, err := validators.ParseUUIDParam(r, "partnerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := svc.GetLocation(r.Context(), partnerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

func ListOnlinePartners(svc locations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snaps, err := svc.ListOnline(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snaps)
	}
}

// ListPartnerHistory returns pings newer than ?since, newest first.
func ListPartnerHistory(svc locations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partnerID, err := validators.ParseUUIDParam(r, "partnerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		since, err := validators.ParseQueryTime(r, "since")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 100, 1, 1000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		points, err := svc.ListHistory(r.Context(), partnerID, since, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, points)
	}
}
