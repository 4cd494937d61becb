package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/partner-dispatch/pkg/enums"
)

// AssignmentEvent carries the assignment state after a lifecycle change. The
// same shape is used for every assignment_* event type.
type AssignmentEvent struct {
	AssignmentID         uuid.UUID              `json:"assignment_id"`
	OrderID              uuid.UUID              `json:"order_id"`
	RestaurantID         uuid.UUID              `json:"restaurant_id"`
	CustomerID           uuid.UUID              `json:"customer_id"`
	PartnerID            *uuid.UUID             `json:"partner_id,omitempty"`
	PreviousPartnerID    *uuid.UUID             `json:"previous_partner_id,omitempty"`
	Status               enums.AssignmentStatus `json:"status"`
	Type                 enums.AssignmentType   `json:"type"`
	AttemptCount         int                    `json:"attempt_count"`
	SearchRadiusKm       float64                `json:"search_radius_km"`
	DistanceKm           *float64               `json:"distance_km,omitempty"`
	EstimatedTimeMinutes *int                   `json:"estimated_time_minutes,omitempty"`
	RejectionReason      *string                `json:"rejection_reason,omitempty"`
	GeoDegraded          bool                   `json:"geo_degraded,omitempty"`
}

// NotificationRequestedEvent asks the notification service to tell a partner
// about a new offer.
type NotificationRequestedEvent struct {
	Kind                 string    `json:"kind"`
	PartnerID            uuid.UUID `json:"partner_id"`
	AssignmentID         uuid.UUID `json:"assignment_id"`
	OrderID              uuid.UUID `json:"order_id"`
	DistanceKm           *float64  `json:"distance_km,omitempty"`
	EstimatedTimeMinutes *int      `json:"estimated_time_minutes,omitempty"`
}

// NotificationKindAssignmentOffer is sent when a partner receives an assignment.
const NotificationKindAssignmentOffer = "assignment_offer"

// DeliveryCompletedEvent is published by the delivery service once the order
// reached the customer.
type DeliveryCompletedEvent struct {
	OrderID     uuid.UUID  `json:"order_id"`
	PartnerID   *uuid.UUID `json:"partner_id,omitempty"`
	DeliveryID  *uuid.UUID `json:"delivery_id,omitempty"`
	CompletedAt time.Time  `json:"completed_at"`
}
