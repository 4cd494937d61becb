package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/partner-dispatch/api/responses"
	"github.com/angelmondragon/partner-dispatch/api/validators"
	"github.com/angelmondragon/partner-dispatch/internal/dispatch"
	"github.com/angelmondragon/partner-dispatch/pkg/enums"
	pkgerrors "github.com/angelmondragon/partner-dispatch/pkg/errors"
	"github.com/angelmondragon/partner-dispatch/pkg/logger"
	"github.com/angelmondragon/partner-dispatch/pkg/pagination"
)

const maxReasonLength = 500

type coordinatesRequest struct {
	Latitude  *float64 `json:"lat" validate:"required"`
	Longitude *float64 `json:"lng" validate:"required"`
}

func (c coordinatesRequest) toDomain() dispatch.Coordinates {
	return dispatch.Coordinates{Latitude: c.Latitude, Longitude: c.Longitude}
}

type autoAssignRequest struct {
	OrderID        uuid.UUID          `json:"order_id" validate:"required"`
	RestaurantID   uuid.UUID          `json:"restaurant_id" validate:"required"`
	CustomerID     uuid.UUID          `json:"customer_id" validate:"required"`
	Restaurant     coordinatesRequest `json:"restaurant"`
	Customer       coordinatesRequest `json:"customer"`
	SearchRadiusKm *float64           `json:"search_radius_km" validate:"omitempty,gt=0"`
}

type manualAssignRequest struct {
	OrderID      uuid.UUID          `json:"order_id" validate:"required"`
	PartnerID    uuid.UUID          `json:"partner_id" validate:"required"`
	RestaurantID uuid.UUID          `json:"restaurant_id" validate:"required"`
	CustomerID   uuid.UUID          `json:"customer_id" validate:"required"`
	Restaurant   coordinatesRequest `json:"restaurant"`
	Customer     coordinatesRequest `json:"customer"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type redispatchRequest struct {
	SearchRadiusKm *float64 `json:"search_radius_km" validate:"omitempty,gt=0"`
}

func AutoAssign(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body autoAssignRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snap, err := svc.AutoAssign(r.Context(), dispatch.AutoAssignInput{
			OrderID:        body.OrderID,
			RestaurantID:   body.RestaurantID,
			CustomerID:     body.CustomerID,
			Restaurant:     body.Restaurant.toDomain(),
			Customer:       body.Customer.toDomain(),
			SearchRadiusKm: body.SearchRadiusKm,
			Actor:          actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, snap)
	}
}

func ManualAssign(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body manualAssignRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snap, err := svc.ManualAssign(r.Context(), dispatch.ManualAssignInput{
			OrderID:      body.OrderID,
			PartnerID:    body.PartnerID,
			RestaurantID: body.RestaurantID,
			CustomerID:   body.CustomerID,
			Restaurant:   body.Restaurant.toDomain(),
			Customer:     body.Customer.toDomain(),
			Actor:        actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

func AcceptAssignment(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assignmentID, err := validators.ParseUUIDParam(r, "assignmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := svc.Accept(r.Context(), assignmentID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

func RejectAssignment(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assignmentID, err := validators.ParseUUIDParam(r, "assignmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body rejectRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason := validators.SanitizeString(body.Reason, maxReasonLength)
		snap, err := svc.Reject(r.Context(), assignmentID, reason, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

// RedispatchAssignment reruns matching. The body is optional.
func RedispatchAssignment(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assignmentID, err := validators.ParseUUIDParam(r, "assignmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body redispatchRequest
		if err := validators.DecodeOptionalJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := svc.Redispatch(r.Context(), assignmentID, body.SearchRadiusKm, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

func CompleteAssignment(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := svc.Complete(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

func GetAssignmentByOrder(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := svc.GetByOrderID(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if actor.Role == enums.ActorRolePartner {
			if snap.PartnerID == nil || *snap.PartnerID != actor.ID {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "assignment belongs to another partner"))
				return
			}
		}
		responses.WriteSuccess(w, snap)
	}
}

// ListPartnerAssignments pages through ?limit&cursor.
func ListPartnerAssignments(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
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
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListByPartnerID(r.Context(), partnerID, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}
