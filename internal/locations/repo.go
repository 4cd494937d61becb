package locations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/partner-dispatch/internal/geo"
	"github.com/angelmondragon/partner-dispatch/pkg/db/models"
)

var upsertColumns = []string{
	"latitude",
	"longitude",
	"speed",
	"heading",
	"accuracy",
	"is_moving",
	"is_online",
	"current_delivery_id",
	"updated_at",
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a locations repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// UpsertLocation writes the partner row, overwriting any previous position.
func (r *repository) UpsertLocation(ctx context.Context, loc *models.PartnerLocation) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "partner_id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).
		Create(loc).Error
}

func (r *repository) InsertHistory(ctx context.Context, point *models.LocationHistory) error {
	return r.db.WithContext(ctx).Create(point).Error
}

func (r *repository) FindByPartnerID(ctx context.Context, partnerID uuid.UUID) (*models.PartnerLocation, error) {
	var loc models.PartnerLocation
	if err := r.db.WithContext(ctx).Where("partner_id = ?", partnerID).First(&loc).Error; err != nil {
		return nil, err
	}
	return &loc, nil
}

func (r *repository) ListOnline(ctx context.Context) ([]models.PartnerLocation, error) {
	var rows []models.PartnerLocation
	err := r.db.WithContext(ctx).
		Where("is_online = ?", true).
		Order("partner_id ASC").
		Find(&rows).Error
	return rows, err
}

// FindOnlineInBox is the coarse pre-filter behind radius queries.
func (r *repository) FindOnlineInBox(ctx context.Context, box geo.BoundingBox) ([]models.PartnerLocation, error) {
	var rows []models.PartnerLocation
	err := r.db.WithContext(ctx).
		Where("is_online = ?", true).
		Where("latitude BETWEEN ? AND ?", box.MinLat, box.MaxLat).
		Where("longitude BETWEEN ? AND ?", box.MinLon, box.MaxLon).
		Order("partner_id ASC").
		Find(&rows).Error
	return rows, err
}

// MarkStaleOffline flips partners whose last ping predates cutoff. The
// updated_at column keeps the last ping time.
func (r *repository) MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PartnerLocation{}).
		Where("is_online = ? AND updated_at < ?", true, cutoff).
		UpdateColumn("is_online", false)
	return res.RowsAffected, res.Error
}

func (r *repository) ListHistory(ctx context.Context, partnerID uuid.UUID, since time.Time, limit int) ([]models.LocationHistory, error) {
	var rows []models.LocationHistory
	q := r.db.WithContext(ctx).Where("partner_id = ?", partnerID)
	if !since.IsZero() {
		q = q.Where("recorded_at >= ?", since)
	}
	err := q.Order("recorded_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// FetchHistoryAfter pages history in (recorded_at, id) order, strictly after
// the given key and strictly before the cutoff. A zero key starts from the
// oldest row.
func (r *repository) FetchHistoryAfter(ctx context.Context, afterRecordedAt time.Time, afterID uuid.UUID, before time.Time, limit int) ([]models.LocationHistory, error) {
	var rows []models.LocationHistory
	q := r.db.WithContext(ctx).Where("recorded_at < ?", before)
	if !afterRecordedAt.IsZero() {
		q = q.Where("recorded_at > ? OR (recorded_at = ? AND id > ?)", afterRecordedAt, afterRecordedAt, afterID)
	}
	err := q.Order("recorded_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
