package dispatch

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/partner-dispatch/pkg/db/models"
	"github.com/angelmondragon/partner-dispatch/pkg/enums"
)

// Coordinates is a WGS84 point.
type Coordinates struct {
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"lng"`
}

func (c Coordinates) complete() bool {
	return c.Latitude != nil && c.Longitude != nil
}

// Actor is the caller behind a command.
type Actor struct {
	ID   uuid.UUID
	Role enums.ActorRole
}

func (a Actor) isPartner() bool {
	return a.Role == enums.ActorRolePartner
}

// AutoAssignInput describes an order awaiting a partner.
type AutoAssignInput struct {
	OrderID        uuid.UUID
	RestaurantID   uuid.UUID
	CustomerID     uuid.UUID
	Restaurant     Coordinates
	Customer       Coordinates
	SearchRadiusKm *float64
	Actor          Actor
}

// ManualAssignInput pins an order to a specific partner.
type ManualAssignInput struct {
	OrderID      uuid.UUID
	PartnerID    uuid.UUID
	RestaurantID uuid.UUID
	CustomerID   uuid.UUID
	Restaurant   Coordinates
	Customer     Coordinates
	Actor        Actor
}

// Snapshot is the externally visible state of an assignment.
type Snapshot struct {
	ID                   uuid.UUID              `json:"id"`
	OrderID              uuid.UUID              `json:"order_id"`
	RestaurantID         uuid.UUID              `json:"restaurant_id"`
	CustomerID           uuid.UUID              `json:"customer_id"`
	PartnerID            *uuid.UUID             `json:"partner_id"`
	Status               enums.AssignmentStatus `json:"status"`
	Type                 enums.AssignmentType   `json:"type"`
	RestaurantLat        float64                `json:"restaurant_lat"`
	RestaurantLng        float64                `json:"restaurant_lng"`
	CustomerLat          float64                `json:"customer_lat"`
	CustomerLng          float64                `json:"customer_lng"`
	DistanceKm           *float64               `json:"distance_km"`
	EstimatedTimeMinutes *int                   `json:"estimated_time_minutes"`
	SearchRadiusKm       float64                `json:"search_radius_km"`
	AttemptCount         int                    `json:"attempt_count"`
	RejectionReason      *string                `json:"rejection_reason,omitempty"`
	AssignedAt           *time.Time             `json:"assigned_at"`
	AcceptedAt           *time.Time             `json:"accepted_at"`
	CompletedAt          *time.Time             `json:"completed_at"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

// SnapshotPage is one page of a partner's assignments, newest first.
type SnapshotPage struct {
	Items      []Snapshot `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

func snapshotFromModel(m models.Assignment) Snapshot {
	return Snapshot{
		ID:                   m.ID,
		OrderID:              m.OrderID,
		RestaurantID:         m.RestaurantID,
		CustomerID:           m.CustomerID,
		PartnerID:            m.PartnerID,
		Status:               m.Status,
		Type:                 m.Type,
		RestaurantLat:        m.RestaurantLat,
		RestaurantLng:        m.RestaurantLng,
		CustomerLat:          m.CustomerLat,
		CustomerLng:          m.CustomerLng,
		DistanceKm:           m.DistanceKm,
		EstimatedTimeMinutes: m.EstimatedTimeMinutes,
		SearchRadiusKm:       m.SearchRadiusKm,
		AttemptCount:         m.AttemptCount,
		RejectionReason:      m.RejectionReason,
		AssignedAt:           m.AssignedAt,
		AcceptedAt:           m.AcceptedAt,
		CompletedAt:          m.CompletedAt,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}
