package activations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rephlo/rephlo-server/pkg/db/models"
	"github.com/rephlo/rephlo-server/pkg/enums"
	pkgerrors "github.com/rephlo/rephlo-server/pkg/errors"
	"github.com/rephlo/rephlo-server/pkg/logger"
	pkgpagination "github.com/rephlo/rephlo-server/pkg/pagination"
)

type licensesRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.License, error)
	FindByKey(ctx context.Context, key string) (*models.License, error)
	IncrementActivationsWithTx(tx *gorm.DB, id uuid.UUID) (int64, error)
	DecrementActivationsWithTx(tx *gorm.DB, id uuid.UUID) error
	MarkActivatedWithTx(tx *gorm.DB, id uuid.UUID, at time.Time) error
}

type activationsRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Activation, error)
	FindActiveByFingerprint(ctx context.Context, licenseID uuid.UUID, fingerprint string) (*models.Activation, error)
	FindActiveByFingerprintWithTx(tx *gorm.DB, licenseID uuid.UUID, fingerprint string) (*models.Activation, error)
	CountActiveElsewhere(ctx context.Context, fingerprint string, excludeLicenseID uuid.UUID) (int64, error)
	TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error
	List(ctx context.Context, opts listQuery) ([]models.Activation, error)
	CreateWithTx(tx *gorm.DB, activation *models.Activation) error
	UpdateStatusWithTx(tx *gorm.DB, id uuid.UUID, status enums.ActivationStatus, deactivatedAt *time.Time) (int64, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	WithTxIsolation(ctx context.Context, isolation sql.IsolationLevel, fn func(tx *gorm.DB) error) error
}

// errDeviceAlreadyActive unwinds the cap transaction when the re-check finds
// a row a concurrent activation of the same device committed first.
var errDeviceAlreadyActive = errors.New("device already holds an active slot")

// DeviceInfo carries the hardware identifiers a client reports when
// activating. CPUID, MACAddress, DiskSerial, and OSVersion feed the
// fingerprint; the rest is display metadata.
type DeviceInfo struct {
	CPUID      string
	MACAddress string
	DiskSerial string
	OSVersion  string
	DeviceName string
	OSType     string
	CPUInfo    string
}

// ActivateResult reports the activation row plus whether this call created it.
// IsNew is false when the same device re-activated and only refreshed its
// last-seen time.
type ActivateResult struct {
	Activation *models.Activation
	IsNew      bool
}

// Service manages the device slots attached to a license.
type Service interface {
	ActivateDevice(ctx context.Context, licenseKey string, device DeviceInfo) (*ActivateResult, error)
	DeactivateDevice(ctx context.Context, activationID uuid.UUID) (*models.Activation, error)
	ReplaceDevice(ctx context.Context, oldActivationID uuid.UUID, device DeviceInfo) (*ActivateResult, error)
	ValidateLicense(ctx context.Context, licenseKey string, device DeviceInfo) (bool, error)
	DetectDuplicateAcrossLicenses(ctx context.Context, licenseID uuid.UUID, fingerprint string) bool
	ListActivations(ctx context.Context, params ListParams) (*ListResult, error)
}

type service struct {
	licenses licensesRepository
	repo     activationsRepository
	tx       txRunner
	logg     *logger.Logger
	now      func() time.Time
}

// ServiceParams collects the collaborators NewService wires together.
type ServiceParams struct {
	Licenses licensesRepository
	Repo     activationsRepository
	Tx       txRunner
	Logger   *logger.Logger
	Now      func() time.Time
}

// NewService builds an activation service backed by the provided repositories.
func NewService(p ServiceParams) (Service, error) {
	if p.Licenses == nil {
		return nil, fmt.Errorf("license repository required")
	}
	if p.Repo == nil {
		return nil, fmt.Errorf("activation repository required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &service{
		licenses: p.Licenses,
		repo:     p.Repo,
		tx:       p.Tx,
		logg:     p.Logger,
		now:      p.Now,
	}, nil
}

func (s *service) ActivateDevice(ctx context.Context, licenseKey string, device DeviceInfo) (*ActivateResult, error) {
	license, err := s.loadActivatableLicense(ctx, licenseKey, device)
	if err != nil {
		return nil, err
	}
	return s.activateOnLicense(ctx, license, device)
}

func (s *service) activateOnLicense(ctx context.Context, license *models.License, device DeviceInfo) (*ActivateResult, error) {
	fingerprint := HashFingerprint(device.CPUID, device.MACAddress, device.DiskSerial, device.OSVersion)
	now := s.now().UTC()

	// Same device re-activating is idempotent: refresh last-seen, consume no slot.
	existing, err := s.repo.FindActiveByFingerprint(ctx, license.ID, fingerprint)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup existing activation")
	}
	if existing != nil {
		if err := s.repo.TouchLastSeen(ctx, existing.ID, now); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refresh activation")
		}
		existing.LastSeenAt = now
		return &ActivateResult{Activation: existing, IsNew: false}, nil
	}

	if s.DetectDuplicateAcrossLicenses(ctx, license.ID, fingerprint) {
		warnCtx := s.logg.WithFields(ctx, map[string]any{
			"license_id":  license.ID.String(),
			"fingerprint": fingerprint,
		})
		s.logg.Warn(warnCtx, "fingerprint already active on another license")
	}

	activation := &models.Activation{
		ID:                 uuid.New(),
		LicenseID:          license.ID,
		OwnerUserID:        license.OwnerUserID,
		MachineFingerprint: fingerprint,
		DeviceName:         nilIfEmpty(device.DeviceName),
		OSType:             nilIfEmpty(device.OSType),
		OSVersion:          nilIfEmpty(device.OSVersion),
		CPUInfo:            nilIfEmpty(device.CPUInfo),
		Status:             enums.ActivationStatusActive,
		ActivatedAt:        now,
		LastSeenAt:         now,
	}

	// The conditional increment is the cap gate: when the license is already
	// full no row updates and the whole transaction unwinds, so two requests
	// racing for the last slot can never both insert. Read committed is
	// enough because the increment takes the license row lock, serializing
	// concurrent activations on one license.
	var raced *models.Activation
	err = s.tx.WithTxIsolation(ctx, sql.LevelReadCommitted, func(tx *gorm.DB) error {
		updated, err := s.licenses.IncrementActivationsWithTx(tx, license.ID)
		if err != nil {
			return fmt.Errorf("increment activation counter: %w", err)
		}
		if updated == 0 {
			return pkgerrors.New(pkgerrors.CodeLimitExceeded,
				fmt.Sprintf("activation limit of %d devices reached; deactivate a device before activating this one", license.MaxActivations)).
				WithDetails(map[string]any{"max_activations": license.MaxActivations})
		}
		// Re-check behind the row lock: a concurrent request for the same
		// device may have committed since the fast-path lookup. Rolling back
		// here returns its slot instead of consuming a second one.
		existing, err := s.repo.FindActiveByFingerprintWithTx(tx, license.ID, fingerprint)
		if err != nil {
			return fmt.Errorf("recheck fingerprint: %w", err)
		}
		if existing != nil {
			raced = existing
			return errDeviceAlreadyActive
		}
		if err := s.repo.CreateWithTx(tx, activation); err != nil {
			return fmt.Errorf("create activation: %w", err)
		}
		if license.ActivatedAt == nil {
			if err := s.licenses.MarkActivatedWithTx(tx, license.ID, now); err != nil {
				return fmt.Errorf("mark license activated: %w", err)
			}
		}
		return nil
	})
	if errors.Is(err, errDeviceAlreadyActive) {
		if err := s.repo.TouchLastSeen(ctx, raced.ID, now); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refresh activation")
		}
		raced.LastSeenAt = now
		return &ActivateResult{Activation: raced, IsNew: false}, nil
	}
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "activate device")
	}

	return &ActivateResult{Activation: activation, IsNew: true}, nil
}

func (s *service) DeactivateDevice(ctx context.Context, activationID uuid.UUID) (*models.Activation, error) {
	activation, err := s.findActiveActivation(ctx, activationID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		// The guarded update pairs the status flip with the decrement: when a
		// concurrent request already retired this row, zero rows update and
		// the counter stays untouched.
		updated, err := s.repo.UpdateStatusWithTx(tx, activation.ID, enums.ActivationStatusDeactivated, &now)
		if err != nil {
			return fmt.Errorf("deactivate activation: %w", err)
		}
		if updated == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "activation is not active")
		}
		if err := s.licenses.DecrementActivationsWithTx(tx, activation.LicenseID); err != nil {
			return fmt.Errorf("decrement activation counter: %w", err)
		}
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deactivate device")
	}

	activation.Status = enums.ActivationStatusDeactivated
	activation.DeactivatedAt = &now
	return activation, nil
}

// ReplaceDevice retires the old activation and activates the new device as
// two separate transactions. A failure between them leaves the license one
// slot short rather than one over, which is the safer side of the cap.
func (s *service) ReplaceDevice(ctx context.Context, oldActivationID uuid.UUID, device DeviceInfo) (*ActivateResult, error) {
	old, err := s.findActiveActivation(ctx, oldActivationID)
	if err != nil {
		return nil, err
	}
	license, err := s.licenses.FindByID(ctx, old.LicenseID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup license")
	}
	if err := s.guardActivatable(license); err != nil {
		return nil, err
	}
	if err := validateDeviceIdentifiers(device); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		updated, err := s.repo.UpdateStatusWithTx(tx, old.ID, enums.ActivationStatusReplaced, &now)
		if err != nil {
			return fmt.Errorf("replace activation: %w", err)
		}
		if updated == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "activation is not active")
		}
		if err := s.licenses.DecrementActivationsWithTx(tx, old.LicenseID); err != nil {
			return fmt.Errorf("decrement activation counter: %w", err)
		}
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replace device")
	}

	return s.activateOnLicense(ctx, license, device)
}

// ValidateLicense is the read-only check clients run between launches. It
// refreshes last-seen when the device holds an active slot.
func (s *service) ValidateLicense(ctx context.Context, licenseKey string, device DeviceInfo) (bool, error) {
	license, err := s.loadActivatableLicense(ctx, licenseKey, device)
	if err != nil {
		return false, err
	}
	fingerprint := HashFingerprint(device.CPUID, device.MACAddress, device.DiskSerial, device.OSVersion)
	existing, err := s.repo.FindActiveByFingerprint(ctx, license.ID, fingerprint)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup activation")
	}
	if existing == nil {
		return false, nil
	}
	if err := s.repo.TouchLastSeen(ctx, existing.ID, s.now().UTC()); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refresh activation")
	}
	return true, nil
}

// DetectDuplicateAcrossLicenses reports whether the fingerprint holds an
// active slot on any other license. Signal only: lookup failures log and
// read as no duplicate so the activation path never blocks on it.
func (s *service) DetectDuplicateAcrossLicenses(ctx context.Context, licenseID uuid.UUID, fingerprint string) bool {
	count, err := s.repo.CountActiveElsewhere(ctx, fingerprint, licenseID)
	if err != nil {
		warnCtx := s.logg.WithField(ctx, "license_id", licenseID.String())
		s.logg.Error(warnCtx, "duplicate fingerprint lookup failed", err)
		return false
	}
	return count > 0
}

func (s *service) ListActivations(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.LicenseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "license id is required")
	}

	limit := pkgpagination.NormalizeLimit(params.Limit)
	query := listQuery{
		licenseID: params.LicenseID,
		limit:     pkgpagination.LimitWithBuffer(params.Limit),
	}
	if params.Cursor != "" {
		cursor, err := pkgpagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.cursor = cursor
	}

	rows, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list activations")
	}

	nextCursor := ""
	if len(rows) > limit {
		nextCursor = pkgpagination.EncodeCursor(pkgpagination.Cursor{
			CreatedAt: rows[limit].CreatedAt,
			ID:        rows[limit].ID,
		})
		rows = rows[:limit]
	}

	items := make([]ListItem, len(rows))
	for i, row := range rows {
		items[i] = toListItem(row)
	}
	return &ListResult{Items: items, Cursor: nextCursor}, nil
}

func (s *service) findActiveActivation(ctx context.Context, id uuid.UUID) (*models.Activation, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "activation id is required")
	}
	activation, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "activation not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup activation")
	}
	if activation.Status != enums.ActivationStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "activation is not active")
	}
	return activation, nil
}

func (s *service) loadActivatableLicense(ctx context.Context, licenseKey string, device DeviceInfo) (*models.License, error) {
	licenseKey = strings.TrimSpace(licenseKey)
	if licenseKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "license_key is required")
	}
	if err := validateDeviceIdentifiers(device); err != nil {
		return nil, err
	}
	license, err := s.licenses.FindByKey(ctx, licenseKey)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "license not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup license")
	}
	if err := s.guardActivatable(license); err != nil {
		return nil, err
	}
	return license, nil
}

// guardActivatable rejects licenses whose state forbids device activity. The
// revoked message matches no particular state so callers cannot distinguish a
// revoked key from one that never existed beyond the error kind.
func (s *service) guardActivatable(license *models.License) error {
	switch license.Status {
	case enums.LicenseStatusRevoked:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "license is not available for activation")
	case enums.LicenseStatusSuspended:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "license is suspended")
	default:
		return nil
	}
}

func validateDeviceIdentifiers(device DeviceInfo) error {
	if strings.TrimSpace(device.CPUID) == "" ||
		strings.TrimSpace(device.MACAddress) == "" ||
		strings.TrimSpace(device.DiskSerial) == "" ||
		strings.TrimSpace(device.OSVersion) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "cpu_id, mac_address, disk_serial, and os_version are required")
	}
	return nil
}

func nilIfEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
