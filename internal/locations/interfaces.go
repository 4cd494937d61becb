package locations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/partner-dispatch/internal/geo"
	"github.com/angelmondragon/partner-dispatch/pkg/db/models"
)

// Repository defines persistence operations for partner positions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	UpsertLocation(ctx context.Context, loc *models.PartnerLocation) error
	InsertHistory(ctx context.Context, point *models.LocationHistory) error
	FindByPartnerID(ctx context.Context, partnerID uuid.UUID) (*models.PartnerLocation, error)
	ListOnline(ctx context.Context) ([]models.PartnerLocation, error)
	FindOnlineInBox(ctx context.Context, box geo.BoundingBox) ([]models.PartnerLocation, error)
	MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error)
	ListHistory(ctx context.Context, partnerID uuid.UUID, since time.Time, limit int) ([]models.LocationHistory, error)
	FetchHistoryAfter(ctx context.Context, afterRecordedAt time.Time, afterID uuid.UUID, before time.Time, limit int) ([]models.LocationHistory, error)
}

// Service exposes the partner location store.
type Service interface {
	UpdateLocation(ctx context.Context, input UpdateLocationInput) (*Snapshot, error)
	GetLocation(ctx context.Context, partnerID uuid.UUID) (*Snapshot, error)
	ListOnline(ctx context.Context) ([]Snapshot, error)
	ListHistory(ctx context.Context, partnerID uuid.UUID, since time.Time, limit int) ([]HistoryPoint, error)
	MarkStaleOffline(ctx context.Context, staleAfter time.Duration) (int64, error)
}
