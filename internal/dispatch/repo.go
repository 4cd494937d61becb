package dispatch

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/partner-dispatch/pkg/db/models"
	"github.com/angelmondragon/partner-dispatch/pkg/enums"
	"github.com/angelmondragon/partner-dispatch/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an assignment repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts a new assignment. A second row for the same order fails on
// ux_assignments_order_id.
func (r *repository) Create(ctx context.Context, assignment *models.Assignment) error {
	return r.db.WithContext(ctx).Create(assignment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Assignment, error) {
	var assignment models.Assignment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&assignment).Error; err != nil {
		return nil, err
	}
	return &assignment, nil
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Assignment, error) {
	var assignment models.Assignment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&assignment).Error; err != nil {
		return nil, err
	}
	return &assignment, nil
}

// LockByOrderID reads the order's assignment with a row lock on Postgres.
func (r *repository) LockByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Assignment, error) {
	q := r.db.WithContext(ctx)
	if q.Dialector != nil && q.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var assignment models.Assignment
	if err := q.Where("order_id = ?", orderID).First(&assignment).Error; err != nil {
		return nil, err
	}
	return &assignment, nil
}

// Transition applies updates only while the row is still in one of the from
// states and reports how many rows moved.
func (r *repository) Transition(ctx context.Context, id uuid.UUID, from []enums.AssignmentStatus, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Assignment{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) ListByPartnerID(ctx context.Context, partnerID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Assignment, error) {
	q := r.db.WithContext(ctx).Where("partner_id = ?", partnerID)
	if cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.Assignment
	err := q.Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
