package models

import (
	"time"

	"github.com/google/uuid"
)

// PartnerLocation is the latest known position of a delivery partner. One row
// per partner, overwritten on every ping.
type PartnerLocation struct {
	PartnerID         uuid.UUID  `gorm:"column:partner_id;type:uuid;primaryKey"`
	Latitude          float64    `gorm:"column:latitude;not null"`
	Longitude         float64    `gorm:"column:longitude;not null"`
	Speed             *float64   `gorm:"column:speed"`
	Heading           *float64   `gorm:"column:heading"`
	Accuracy          *float64   `gorm:"column:accuracy"`
	IsMoving          bool       `gorm:"column:is_moving;not null;default:false"`
	IsOnline          bool       `gorm:"column:is_online;not null;default:true"`
	CurrentDeliveryID *uuid.UUID `gorm:"column:current_delivery_id;type:uuid"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

func (PartnerLocation) TableName() string { return "partner_locations" }
