package dispatch

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/partner-dispatch/internal/locations"
	"github.com/angelmondragon/partner-dispatch/pkg/db/models"
	"github.com/angelmondragon/partner-dispatch/pkg/enums"
	"github.com/angelmondragon/partner-dispatch/pkg/outbox"
	"github.com/angelmondragon/partner-dispatch/pkg/pagination"
)

// Repository defines persistence operations for assignments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, assignment *models.Assignment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Assignment, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Assignment, error)
	LockByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Assignment, error)
	Transition(ctx context.Context, id uuid.UUID, from []enums.AssignmentStatus, updates map[string]any) (int64, error)
	ListByPartnerID(ctx context.Context, partnerID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Assignment, error)
}

// Service exposes the dispatch orchestrator.
type Service interface {
	AutoAssign(ctx context.Context, input AutoAssignInput) (*Snapshot, error)
	ManualAssign(ctx context.Context, input ManualAssignInput) (*Snapshot, error)
	Redispatch(ctx context.Context, assignmentID uuid.UUID, radiusKm *float64, actor Actor) (*Snapshot, error)
	Accept(ctx context.Context, assignmentID uuid.UUID, actor Actor) (*Snapshot, error)
	Reject(ctx context.Context, assignmentID uuid.UUID, reason string, actor Actor) (*Snapshot, error)
	Complete(ctx context.Context, orderID uuid.UUID, actor Actor) (*Snapshot, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*Snapshot, error)
	ListByPartnerID(ctx context.Context, partnerID uuid.UUID, params pagination.Params) (*SnapshotPage, error)
}

// Reservations holds short-lived claims on partners between selection and
// acceptance.
type Reservations interface {
	Reserve(ctx context.Context, partnerID, assignmentID uuid.UUID) (bool, error)
	Force(ctx context.Context, partnerID, assignmentID uuid.UUID) error
	Release(ctx context.Context, partnerID, assignmentID uuid.UUID) error
}

// Observer receives dispatch outcomes for metrics.
type Observer interface {
	ObserveAssignment(outcome string)
	ObserveGeoDegraded(reason string)
	ObserveReservation(result string)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type partnerLocator interface {
	GetLocation(ctx context.Context, partnerID uuid.UUID) (*locations.Snapshot, error)
}
