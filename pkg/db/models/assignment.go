package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/partner-dispatch/pkg/enums"
)

// Assignment links an order to the delivery partner dispatched for it.
type Assignment struct {
	ID                   uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID              uuid.UUID              `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_assignments_order_id"`
	RestaurantID         uuid.UUID              `gorm:"column:restaurant_id;type:uuid;not null"`
	CustomerID           uuid.UUID              `gorm:"column:customer_id;type:uuid;not null"`
	PartnerID            *uuid.UUID             `gorm:"column:partner_id;type:uuid"`
	Status               enums.AssignmentStatus `gorm:"column:status;type:assignment_status;not null"`
	Type                 enums.AssignmentType   `gorm:"column:type;type:assignment_type;not null"`
	RestaurantLat        float64                `gorm:"column:restaurant_lat;not null"`
	RestaurantLng        float64                `gorm:"column:restaurant_lng;not null"`
	CustomerLat          float64                `gorm:"column:customer_lat;not null"`
	CustomerLng          float64                `gorm:"column:customer_lng;not null"`
	DistanceKm           *float64               `gorm:"column:distance_km"`
	EstimatedTimeMinutes *int                   `gorm:"column:estimated_time_minutes"`
	SearchRadiusKm       float64                `gorm:"column:search_radius_km;not null"`
	AttemptCount         int                    `gorm:"column:attempt_count;not null;default:1"`
	RejectionReason      *string                `gorm:"column:rejection_reason"`
	AssignedByID         *uuid.UUID             `gorm:"column:assigned_by_id;type:uuid"`
	AssignedAt           *time.Time             `gorm:"column:assigned_at"`
	AcceptedAt           *time.Time             `gorm:"column:accepted_at"`
	CompletedAt          *time.Time             `gorm:"column:completed_at"`
	CreatedAt            time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (Assignment) TableName() string { return "assignments" }
