package activations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rephlo/rephlo-server/internal/repo"
	"github.com/rephlo/rephlo-server/pkg/db/models"
	"github.com/rephlo/rephlo-server/pkg/enums"
)

// Repository exposes activation persistence operations.
type Repository struct {
	repo.Base
}

// NewRepository constructs an activation repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// FindByID loads an activation by primary key.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Activation, error) {
	var row models.Activation
	if err := r.DB(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// FindActiveByFingerprint returns the active activation for the given
// license/fingerprint pair, or nil when the device holds no slot.
func (r *Repository) FindActiveByFingerprint(ctx context.Context, licenseID uuid.UUID, fingerprint string) (*models.Activation, error) {
	var row models.Activation
	err := r.DB(ctx).
		Where("license_id = ? AND machine_fingerprint = ? AND status = ?", licenseID, fingerprint, enums.ActivationStatusActive).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// CountActiveElsewhere counts active slots the fingerprint holds on other licenses.
func (r *Repository) CountActiveElsewhere(ctx context.Context, fingerprint string, excludeLicenseID uuid.UUID) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&models.Activation{}).
		Where("machine_fingerprint = ? AND status = ? AND license_id <> ?", fingerprint, enums.ActivationStatusActive, excludeLicenseID).
		Count(&count).Error
	return count, err
}

// TouchLastSeen refreshes the last-seen timestamp on an activation.
func (r *Repository) TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.DB(ctx).Model(&models.Activation{}).
		Where("id = ?", id).
		Update("last_seen_at", at).Error
}

// List returns license-scoped activations using cursor pagination.
func (r *Repository) List(ctx context.Context, opts listQuery) ([]models.Activation, error) {
	query := r.DB(ctx).Model(&models.Activation{}).Where("license_id = ?", opts.licenseID)

	if opts.cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", opts.cursor.CreatedAt, opts.cursor.CreatedAt, opts.cursor.ID)
	}

	query = query.Order("created_at DESC").Order("id DESC").Limit(opts.limit)

	var rows []models.Activation
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CreateWithTx inserts an activation row inside the provided transaction.
func (r *Repository) CreateWithTx(tx *gorm.DB, activation *models.Activation) error {
	return tx.Create(activation).Error
}

// FindActiveByFingerprintWithTx is the transactional form of
// FindActiveByFingerprint, used to re-check for a concurrently committed
// activation of the same device once the license row is locked.
func (r *Repository) FindActiveByFingerprintWithTx(tx *gorm.DB, licenseID uuid.UUID, fingerprint string) (*models.Activation, error) {
	var row models.Activation
	err := tx.
		Where("license_id = ? AND machine_fingerprint = ? AND status = ?", licenseID, fingerprint, enums.ActivationStatusActive).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// UpdateStatusWithTx moves an activation out of the active state. Status
// changes are one-way; a returning device gets a fresh row. The active guard
// makes the transition conditional, so of two racing callers only one sees a
// row updated and the loser's transaction can unwind without touching the
// counter.
func (r *Repository) UpdateStatusWithTx(tx *gorm.DB, id uuid.UUID, status enums.ActivationStatus, deactivatedAt *time.Time) (int64, error) {
	updates := map[string]any{"status": status}
	if deactivatedAt != nil {
		updates["deactivated_at"] = *deactivatedAt
	}
	result := tx.Model(&models.Activation{}).
		Where("id = ? AND status = ?", id, enums.ActivationStatusActive).
		Updates(updates)
	return result.RowsAffected, result.Error
}

// DeactivateAllActiveWithTx force-deactivates every active slot on a license.
func (r *Repository) DeactivateAllActiveWithTx(tx *gorm.DB, licenseID uuid.UUID, at time.Time) error {
	return tx.Model(&models.Activation{}).
		Where("license_id = ? AND status = ?", licenseID, enums.ActivationStatusActive).
		Updates(map[string]any{
			"status":         enums.ActivationStatusDeactivated,
			"deactivated_at": at,
		}).Error
}

// DuplicateFingerprint is one fingerprint observed active on multiple licenses.
type DuplicateFingerprint struct {
	Fingerprint  string
	LicenseCount int64
}

// ListCrossLicenseDuplicates returns fingerprints holding active slots on more
// than one license, for fraud review.
func (r *Repository) ListCrossLicenseDuplicates(ctx context.Context) ([]DuplicateFingerprint, error) {
	var rows []DuplicateFingerprint
	err := r.DB(ctx).Model(&models.Activation{}).
		Select("machine_fingerprint AS fingerprint, COUNT(DISTINCT license_id) AS license_count").
		Where("status = ?", enums.ActivationStatusActive).
		Group("machine_fingerprint").
		Having("COUNT(DISTINCT license_id) > 1").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
