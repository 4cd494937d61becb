package models

import (
	"time"

	"github.com/google/uuid"
)

// LocationHistory is the append-only trail of partner pings.
type LocationHistory struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PartnerID  uuid.UUID  `gorm:"column:partner_id;type:uuid;not null"`
	Latitude   float64    `gorm:"column:latitude;not null"`
	Longitude  float64    `gorm:"column:longitude;not null"`
	Speed      *float64   `gorm:"column:speed"`
	Heading    *float64   `gorm:"column:heading"`
	DeliveryID *uuid.UUID `gorm:"column:delivery_id;type:uuid"`
	RecordedAt time.Time  `gorm:"column:recorded_at;not null"`
}

func (LocationHistory) TableName() string { return "location_history" }
