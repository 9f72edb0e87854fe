package licenses

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rephlo/rephlo-server/internal/repo"
	"github.com/rephlo/rephlo-server/pkg/db/models"
	"github.com/rephlo/rephlo-server/pkg/enums"
)

// Repository exposes license persistence operations.
type Repository struct {
	repo.Base
}

// NewRepository constructs a license repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// Create inserts a new license row.
func (r *Repository) Create(ctx context.Context, license *models.License) (*models.License, error) {
	if err := r.DB(ctx).Create(license).Error; err != nil {
		return nil, err
	}
	return license, nil
}

// FindByID loads a license by primary key.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	var row models.License
	if err := r.DB(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// FindByKey loads a license by its key.
func (r *Repository) FindByKey(ctx context.Context, key string) (*models.License, error) {
	var row models.License
	if err := r.DB(ctx).First(&row, "license_key = ?", key).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// KeyExists reports whether a key is already registered.
func (r *Repository) KeyExists(ctx context.Context, key string) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&models.License{}).
		Where("license_key = ?", key).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// List returns owner-scoped licenses using cursor pagination.
func (r *Repository) List(ctx context.Context, opts listQuery) ([]models.License, error) {
	query := r.DB(ctx).Model(&models.License{}).Where("owner_user_id = ?", opts.ownerUserID)

	if opts.cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", opts.cursor.CreatedAt, opts.cursor.CreatedAt, opts.cursor.ID)
	}

	query = query.Order("created_at DESC").Order("id DESC").Limit(opts.limit)

	var rows []models.License
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateStatus sets the license status.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.LicenseStatus) error {
	return r.DB(ctx).Model(&models.License{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// UpdateStatusWithTx sets the license status using the provided transaction.
func (r *Repository) UpdateStatusWithTx(tx *gorm.DB, id uuid.UUID, status enums.LicenseStatus) error {
	return tx.Model(&models.License{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// IncrementActivationsWithTx bumps the cached activation counter only while it
// is below the cap. The returned row count is zero when the cap is already
// reached, which is how concurrent activations lose the race.
func (r *Repository) IncrementActivationsWithTx(tx *gorm.DB, id uuid.UUID) (int64, error) {
	res := tx.Model(&models.License{}).
		Where("id = ? AND current_activations < max_activations", id).
		Update("current_activations", gorm.Expr("current_activations + 1"))
	return res.RowsAffected, res.Error
}

// DecrementActivationsWithTx lowers the cached activation counter, floored at zero.
func (r *Repository) DecrementActivationsWithTx(tx *gorm.DB, id uuid.UUID) error {
	return tx.Model(&models.License{}).
		Where("id = ? AND current_activations > 0", id).
		Update("current_activations", gorm.Expr("current_activations - 1")).Error
}

// ResetActivationsWithTx zeroes the cached activation counter.
func (r *Repository) ResetActivationsWithTx(tx *gorm.DB, id uuid.UUID) error {
	return tx.Model(&models.License{}).
		Where("id = ?", id).
		Update("current_activations", 0).Error
}

// MarkActivatedWithTx flips a pending license to active and stamps the first
// activation time. A no-op for licenses that already activated once.
func (r *Repository) MarkActivatedWithTx(tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return tx.Model(&models.License{}).
		Where("id = ? AND activated_at IS NULL", id).
		Updates(map[string]any{
			"status":       enums.LicenseStatusActive,
			"activated_at": at,
		}).Error
}

// AdvanceEligibleUntilWithTx moves the eligibility ceiling forward after a
// completed version upgrade.
func (r *Repository) AdvanceEligibleUntilWithTx(tx *gorm.DB, id uuid.UUID, version string) error {
	return tx.Model(&models.License{}).
		Where("id = ?", id).
		Update("eligible_until_version", version).Error
}
