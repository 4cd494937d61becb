package dispatch

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/partner-dispatch/pkg/db/models"
	"github.com/angelmondragon/partner-dispatch/pkg/enums"
	"github.com/angelmondragon/partner-dispatch/pkg/outbox"
	"github.com/angelmondragon/partner-dispatch/pkg/outbox/payloads"
)

func assignmentPayload(a models.Assignment) payloads.AssignmentEvent {
	return payloads.AssignmentEvent{
		AssignmentID:         a.ID,
		OrderID:              a.OrderID,
		RestaurantID:         a.RestaurantID,
		CustomerID:           a.CustomerID,
		PartnerID:            a.PartnerID,
		Status:               a.Status,
		Type:                 a.Type,
		AttemptCount:         a.AttemptCount,
		SearchRadiusKm:       a.SearchRadiusKm,
		DistanceKm:           a.DistanceKm,
		EstimatedTimeMinutes: a.EstimatedTimeMinutes,
		RejectionReason:      a.RejectionReason,
	}
}

func buildActor(actor Actor) *outbox.ActorRef {
	if actor.ID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{ActorID: actor.ID, Role: string(actor.Role)}
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, a models.Assignment, actor Actor, data any) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateAssignment,
		AggregateID:   a.ID,
		Version:       1,
		Actor:         buildActor(actor),
		Data:          data,
		OccurredAt:    s.now(),
	})
}

func (s *service) emitAssignmentEvent(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, a models.Assignment, actor Actor) error {
	return s.emit(ctx, tx, eventType, a, actor, assignmentPayload(a))
}

// emitAssigned records the assignment and asks the notification service to
// tell the partner.
func (s *service) emitAssigned(ctx context.Context, tx *gorm.DB, a models.Assignment, actor Actor) error {
	if err := s.emitAssignmentEvent(ctx, tx, enums.EventAssignmentAssigned, a, actor); err != nil {
		return err
	}
	if a.PartnerID == nil {
		return nil
	}
	return s.emit(ctx, tx, enums.EventNotificationRequested, a, actor, payloads.NotificationRequestedEvent{
		Kind:                 payloads.NotificationKindAssignmentOffer,
		PartnerID:            *a.PartnerID,
		AssignmentID:         a.ID,
		OrderID:              a.OrderID,
		DistanceKm:           a.DistanceKm,
		EstimatedTimeMinutes: a.EstimatedTimeMinutes,
	})
}
