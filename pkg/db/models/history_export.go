package models

import (
	"time"

	"github.com/google/uuid"
)

// HistoryExportWatermark records how far a location_history export stream
// has copied. It lives in its own table; location_history is never touched.
type HistoryExportWatermark struct {
	Stream         string    `gorm:"column:stream;primaryKey"`
	LastRecordedAt time.Time `gorm:"column:last_recorded_at;not null"`
	LastID         uuid.UUID `gorm:"column:last_id;type:uuid;not null"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null"`
}

func (HistoryExportWatermark) TableName() string { return "location_history_exports" }
