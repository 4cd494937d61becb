package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/partner-dispatch/api/middleware"
	"github.com/angelmondragon/partner-dispatch/internal/dispatch"
	"github.com/angelmondragon/partner-dispatch/pkg/enums"
	pkgerrors "github.com/angelmondragon/partner-dispatch/pkg/errors"
)

func actorFromRequest(r *http.Request) (dispatch.Actor, error) {
	id, ok := middleware.ActorUUIDFromContext(r.Context())
	if !ok {
		return dispatch.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor context missing")
	}
	role, err := enums.ParseActorRole(middleware.RoleFromContext(r.Context()))
	if err != nil {
		return dispatch.Actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "actor role missing")
	}
	return dispatch.Actor{ID: id, Role: role}, nil
}

// ensurePartnerSelf stops partners from acting on another partner's resources.
// Other roles pass through.
func ensurePartnerSelf(actor dispatch.Actor, partnerID uuid.UUID) error {
	if actor.Role == enums.ActorRolePartner && actor.ID != partnerID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "partners may only access their own records")
	}
	return nil
}
