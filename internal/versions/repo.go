package versions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rephlo/rephlo-server/internal/repo"
	"github.com/rephlo/rephlo-server/pkg/db/models"
	"github.com/rephlo/rephlo-server/pkg/enums"
)

// Repository exposes version upgrade persistence operations.
type Repository struct {
	repo.Base
}

// NewRepository constructs an upgrade repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// Create inserts a new version upgrade row.
func (r *Repository) Create(ctx context.Context, upgrade *models.VersionUpgrade) (*models.VersionUpgrade, error) {
	if err := r.DB(ctx).Create(upgrade).Error; err != nil {
		return nil, err
	}
	return upgrade, nil
}

// FindByID loads an upgrade by primary key.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.VersionUpgrade, error) {
	var row models.VersionUpgrade
	if err := r.DB(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// List returns license-scoped upgrades using cursor pagination.
func (r *Repository) List(ctx context.Context, opts listQuery) ([]models.VersionUpgrade, error) {
	query := r.DB(ctx).Model(&models.VersionUpgrade{}).Where("license_id = ?", opts.licenseID)

	if opts.cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", opts.cursor.CreatedAt, opts.cursor.CreatedAt, opts.cursor.ID)
	}

	query = query.Order("created_at DESC").Order("id DESC").Limit(opts.limit)

	var rows []models.VersionUpgrade
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateStatusWithTx finalizes an upgrade inside the provided transaction.
func (r *Repository) UpdateStatusWithTx(tx *gorm.DB, id uuid.UUID, status enums.VersionUpgradeStatus, paymentRef *string) error {
	updates := map[string]any{"status": status}
	if paymentRef != nil {
		updates["payment_reference"] = *paymentRef
	}
	return tx.Model(&models.VersionUpgrade{}).
		Where("id = ?", id).
		Updates(updates).Error
}
