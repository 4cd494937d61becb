package archive

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/partner-dispatch/pkg/db/models"
)

// Watermark is the (recorded_at, id) of the last exported history row.
type Watermark struct {
	RecordedAt time.Time
	ID         uuid.UUID
}

func (w Watermark) IsZero() bool {
	return w.RecordedAt.IsZero() && w.ID == uuid.Nil
}

// WatermarkStore persists export progress per stream.
type WatermarkStore interface {
	Load(ctx context.Context, stream string) (Watermark, error)
	Save(ctx context.Context, stream string, mark Watermark) error
}

type watermarkRepository struct {
	db *gorm.DB
}

func NewWatermarkRepository(db *gorm.DB) WatermarkStore {
	return &watermarkRepository{db: db}
}

// Load returns the zero Watermark for a stream that never exported.
func (r *watermarkRepository) Load(ctx context.Context, stream string) (Watermark, error) {
	var row models.HistoryExportWatermark
	err := r.db.WithContext(ctx).Where("stream = ?", stream).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Watermark{}, nil
	}
	if err != nil {
		return Watermark{}, err
	}
	return Watermark{RecordedAt: row.LastRecordedAt, ID: row.LastID}, nil
}

func (r *watermarkRepository) Save(ctx context.Context, stream string, mark Watermark) error {
	row := models.HistoryExportWatermark{
		Stream:         stream,
		LastRecordedAt: mark.RecordedAt,
		LastID:         mark.ID,
		UpdatedAt:      time.Now().UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stream"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_recorded_at", "last_id", "updated_at"}),
		}).
		Create(&row).Error
}
