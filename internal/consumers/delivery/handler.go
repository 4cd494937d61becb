package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/partner-dispatch/internal/consumers"
	"github.com/angelmondragon/partner-dispatch/internal/dispatch"
	"github.com/angelmondragon/partner-dispatch/pkg/enums"
	pkgerrors "github.com/angelmondragon/partner-dispatch/pkg/errors"
	"github.com/angelmondragon/partner-dispatch/pkg/logger"
	"github.com/angelmondragon/partner-dispatch/pkg/outbox/payloads"
)

// ConsumerName scopes idempotency markers for this consumer.
const ConsumerName = "delivery-completed"

// EventDeliveryCompleted is published by the delivery service.
const EventDeliveryCompleted = "delivery_completed"

type completer interface {
	Complete(ctx context.Context, orderID uuid.UUID, actor dispatch.Actor) (*dispatch.Snapshot, error)
}

// Handler closes the assignment of every order the delivery service reports
// as delivered.
type Handler struct {
	dispatch completer
	logg     *logger.Logger
}

func NewHandler(svc completer, logg *logger.Logger) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("dispatch service required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Handler{dispatch: svc, logg: logg}, nil
}

func (h *Handler) Handle(ctx context.Context, event consumers.Event) error {
	if event.EventType != EventDeliveryCompleted {
		h.logg.Debug(ctx, "ignoring event type")
		return nil
	}
	var payload payloads.DeliveryCompletedEvent
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return consumers.Permanent(fmt.Errorf("decode delivery_completed: %w", err))
	}
	if payload.OrderID == uuid.Nil {
		return consumers.Permanent(errors.New("delivery_completed without order_id"))
	}

	ctx = h.logg.WithField(ctx, "order_id", payload.OrderID.String())
	snap, err := h.dispatch.Complete(ctx, payload.OrderID, dispatch.Actor{Role: enums.ActorRoleService})
	if err != nil {
		if permanent(err) {
			return consumers.Permanent(err)
		}
		return err
	}
	if payload.PartnerID != nil && (snap.PartnerID == nil || *snap.PartnerID != *payload.PartnerID) {
		h.logg.Warn(h.logg.WithField(ctx, "reported_partner_id", payload.PartnerID.String()), "delivery partner differs from assigned partner")
	}
	h.logg.Info(h.logg.WithField(ctx, "assignment_id", snap.ID.String()), "assignment completed from delivery event")
	return nil
}

// permanent reports errors that would fail the same way on redelivery.
func permanent(err error) bool {
	for _, code := range []pkgerrors.Code{
		pkgerrors.CodeValidation,
		pkgerrors.CodeNotFound,
		pkgerrors.CodeStateConflict,
		pkgerrors.CodeForbidden,
	} {
		if pkgerrors.IsCode(err, code) {
			return true
		}
	}
	return false
}
