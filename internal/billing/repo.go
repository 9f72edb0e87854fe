package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rephlo/rephlo-server/internal/repo"
	"github.com/rephlo/rephlo-server/pkg/db/models"
	"github.com/rephlo/rephlo-server/pkg/enums"
)

// Repository exposes proration event persistence operations.
type Repository struct {
	repo.Base
}

// NewRepository constructs a proration event repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// Create inserts a new proration event row.
func (r *Repository) Create(ctx context.Context, event *models.ProrationEvent) (*models.ProrationEvent, error) {
	if err := r.DB(ctx).Create(event).Error; err != nil {
		return nil, err
	}
	return event, nil
}

// FindByID loads a proration event by primary key.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ProrationEvent, error) {
	var row models.ProrationEvent
	if err := r.DB(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// MarkApplied flips a pending event to applied and stores the invoice reference.
func (r *Repository) MarkApplied(ctx context.Context, id uuid.UUID, invoiceRef string) error {
	return r.DB(ctx).Model(&models.ProrationEvent{}).
		Where("id = ? AND status = ?", id, enums.ProrationStatusPending).
		Updates(map[string]any{
			"status":            enums.ProrationStatusApplied,
			"invoice_reference": invoiceRef,
		}).Error
}

// ListPendingBefore returns pending events created before the cutoff, oldest first.
func (r *Repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ProrationEvent, error) {
	query := r.DB(ctx).
		Where("status = ? AND created_at < ?", enums.ProrationStatusPending, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.ProrationEvent
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
