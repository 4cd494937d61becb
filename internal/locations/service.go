package locations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/partner-dispatch/pkg/db/models"
	pkgerrors "github.com/angelmondragon/partner-dispatch/pkg/errors"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PingObserver records accepted location pings.
type PingObserver interface {
	ObservePing(online bool)
}

type service struct {
	repo     Repository
	tx       txRunner
	observer PingObserver
	now      func() time.Time
}

// NewService builds the location store service.
func NewService(repo Repository, tx txRunner, observer PingObserver) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("locations repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		observer: observer,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// UpdateLocation overwrites the partner's current row and appends the ping to
// the history in the same transaction.
func (s *service) UpdateLocation(ctx context.Context, input UpdateLocationInput) (*Snapshot, error) {
	if input.PartnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "partner id required")
	}
	if input.Latitude == nil || input.Longitude == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "latitude and longitude required")
	}

	now := s.now()
	loc := models.PartnerLocation{
		PartnerID:         input.PartnerID,
		Latitude:          *input.Latitude,
		Longitude:         *input.Longitude,
		Speed:             input.Speed,
		Heading:           input.Heading,
		Accuracy:          input.Accuracy,
		IsMoving:          boolOr(input.IsMoving, false),
		IsOnline:          boolOr(input.IsOnline, true),
		CurrentDeliveryID: input.CurrentDeliveryID,
		UpdatedAt:         now,
	}
	point := models.LocationHistory{
		ID:         uuid.New(),
		PartnerID:  input.PartnerID,
		Latitude:   loc.Latitude,
		Longitude:  loc.Longitude,
		Speed:      input.Speed,
		Heading:    input.Heading,
		DeliveryID: input.CurrentDeliveryID,
		RecordedAt: now,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpsertLocation(ctx, &loc); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert partner location")
		}
		if err := repo.InsertHistory(ctx, &point); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append location history")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.observer != nil {
		s.observer.ObservePing(loc.IsOnline)
	}
	snap := snapshotFromModel(loc)
	return &snap, nil
}

func (s *service) GetLocation(ctx context.Context, partnerID uuid.UUID) (*Snapshot, error) {
	if partnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "partner id required")
	}
	loc, err := s.repo.FindByPartnerID(ctx, partnerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "partner location not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load partner location")
	}
	snap := snapshotFromModel(*loc)
	return &snap, nil
}

func (s *service) ListOnline(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.repo.ListOnline(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list online partners")
	}
	out := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		out = append(out, snapshotFromModel(row))
	}
	return out, nil
}

func (s *service) ListHistory(ctx context.Context, partnerID uuid.UUID, since time.Time, limit int) ([]HistoryPoint, error) {
	if partnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "partner id required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	rows, err := s.repo.ListHistory(ctx, partnerID, since, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list location history")
	}
	out := make([]HistoryPoint, 0, len(rows))
	for _, row := range rows {
		out = append(out, historyFromModel(row))
	}
	return out, nil
}

// MarkStaleOffline takes partners that stopped pinging out of matching.
func (s *service) MarkStaleOffline(ctx context.Context, staleAfter time.Duration) (int64, error) {
	if staleAfter <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "stale window must be positive")
	}
	count, err := s.repo.MarkStaleOffline(ctx, s.now().Add(-staleAfter))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark stale partners offline")
	}
	return count, nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
