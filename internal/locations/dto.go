package locations

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/partner-dispatch/pkg/db/models"
)

// UpdateLocationInput is a single position ping. Only the partner and the
// coordinates are required.
type UpdateLocationInput struct {
	PartnerID         uuid.UUID
	Latitude          *float64
	Longitude         *float64
	Speed             *float64
	Heading           *float64
	Accuracy          *float64
	IsMoving          *bool
	IsOnline          *bool
	CurrentDeliveryID *uuid.UUID
}

// Snapshot is the current position of a partner.
type Snapshot struct {
	PartnerID         uuid.UUID  `json:"partner_id"`
	Latitude          float64    `json:"lat"`
	Longitude         float64    `json:"lon"`
	Speed             *float64   `json:"speed,omitempty"`
	Heading           *float64   `json:"heading,omitempty"`
	Accuracy          *float64   `json:"accuracy,omitempty"`
	IsMoving          bool       `json:"is_moving"`
	IsOnline          bool       `json:"is_online"`
	CurrentDeliveryID *uuid.UUID `json:"current_delivery_id"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// HistoryPoint is one archived ping.
type HistoryPoint struct {
	Latitude   float64    `json:"lat"`
	Longitude  float64    `json:"lon"`
	Speed      *float64   `json:"speed,omitempty"`
	Heading    *float64   `json:"heading,omitempty"`
	DeliveryID *uuid.UUID `json:"delivery_id,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}

func snapshotFromModel(m models.PartnerLocation) Snapshot {
	return Snapshot{
		PartnerID:         m.PartnerID,
		Latitude:          m.Latitude,
		Longitude:         m.Longitude,
		Speed:             m.Speed,
		Heading:           m.Heading,
		Accuracy:          m.Accuracy,
		IsMoving:          m.IsMoving,
		IsOnline:          m.IsOnline,
		CurrentDeliveryID: m.CurrentDeliveryID,
		UpdatedAt:         m.UpdatedAt,
	}
}

func historyFromModel(m models.LocationHistory) HistoryPoint {
	return HistoryPoint{
		Latitude:   m.Latitude,
		Longitude:  m.Longitude,
		Speed:      m.Speed,
		Heading:    m.Heading,
		DeliveryID: m.DeliveryID,
		RecordedAt: m.RecordedAt,
	}
}
