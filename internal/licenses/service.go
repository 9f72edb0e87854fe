package licenses

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/rephlo/rephlo-server/internal/versions"
	pkgdb "github.com/rephlo/rephlo-server/pkg/db"
	"github.com/rephlo/rephlo-server/pkg/db/models"
	"github.com/rephlo/rephlo-server/pkg/enums"
	pkgerrors "github.com/rephlo/rephlo-server/pkg/errors"
	pkgpagination "github.com/rephlo/rephlo-server/pkg/pagination"
)

type licensesRepository interface {
	Create(ctx context.Context, license *models.License) (*models.License, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.License, error)
	KeyExists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, opts listQuery) ([]models.License, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.LicenseStatus) error
	UpdateStatusWithTx(tx *gorm.DB, id uuid.UUID, status enums.LicenseStatus) error
	ResetActivationsWithTx(tx *gorm.DB, id uuid.UUID) error
}

type activationsRepository interface {
	DeactivateAllActiveWithTx(tx *gorm.DB, licenseID uuid.UUID, at time.Time) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes license issuance and lifecycle transitions.
type Service interface {
	CreateLicense(ctx context.Context, input CreateLicenseInput) (*models.License, error)
	GetLicense(ctx context.Context, id uuid.UUID) (*models.License, error)
	ListLicenses(ctx context.Context, params ListParams) (*ListResult, error)
	SuspendLicense(ctx context.Context, id uuid.UUID) (*models.License, error)
	RevokeLicense(ctx context.Context, id uuid.UUID) (*models.License, error)
	ReactivateLicense(ctx context.Context, id uuid.UUID) (*models.License, error)
}

type service struct {
	repo            licensesRepository
	activations     activationsRepository
	tx              txRunner
	maxActivations  int
	keyGenAttempts  int
	entropy         io.Reader
	now             func() time.Time
}

// CreateLicenseInput holds the purchase metadata a new license is minted from.
type CreateLicenseInput struct {
	OwnerUserID      uuid.UUID
	PriceUSD         decimal.Decimal
	PurchasedVersion string
}

// ServiceParams collects the collaborators NewService wires together.
type ServiceParams struct {
	Repo           licensesRepository
	Activations    activationsRepository
	Tx             txRunner
	MaxActivations int
	KeyGenAttempts int
	Entropy        io.Reader
	Now            func() time.Time
}

// NewService builds a license service backed by the provided repositories.
func NewService(p ServiceParams) (Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("license repository required")
	}
	if p.Activations == nil {
		return nil, fmt.Errorf("activations repository required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.MaxActivations <= 0 {
		return nil, fmt.Errorf("max activations must be positive")
	}
	if p.KeyGenAttempts <= 0 {
		p.KeyGenAttempts = 10
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &service{
		repo:           p.Repo,
		activations:    p.Activations,
		tx:             p.Tx,
		maxActivations: p.MaxActivations,
		keyGenAttempts: p.KeyGenAttempts,
		entropy:        p.Entropy,
		now:            p.Now,
	}, nil
}

func (s *service) CreateLicense(ctx context.Context, input CreateLicenseInput) (*models.License, error) {
	if input.OwnerUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner_user_id is required")
	}
	if input.PriceUSD.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}
	purchased := strings.TrimSpace(input.PurchasedVersion)
	eligibleUntil, err := versions.EligibleUntilFor(purchased)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid purchased version")
	}

	key, err := s.uniqueKey(ctx)
	if err != nil {
		return nil, err
	}

	license := &models.License{
		ID:                   uuid.New(),
		OwnerUserID:          input.OwnerUserID,
		LicenseKey:           key,
		PurchasePriceUSD:     input.PriceUSD,
		PurchasedVersion:     purchased,
		EligibleUntilVersion: eligibleUntil,
		Status:               enums.LicenseStatusPending,
		MaxActivations:       s.maxActivations,
		CurrentActivations:   0,
		PurchasedAt:          s.now().UTC(),
	}

	created, err := s.repo.Create(ctx, license)
	if err != nil {
		// Lost a key race between the uniqueness probe and the insert.
		if pkgdb.IsUniqueViolation(err, "license_key") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "license key collision, retry the request")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create license")
	}
	return created, nil
}

// uniqueKey draws candidate keys until one misses the registry. The store's
// unique constraint remains the final arbiter for concurrent creators.
func (s *service) uniqueKey(ctx context.Context) (string, error) {
	for attempt := 0; attempt < s.keyGenAttempts; attempt++ {
		key, err := generateKey(s.entropy)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate license key")
		}
		exists, err := s.repo.KeyExists(ctx, key)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check key uniqueness")
		}
		if !exists {
			return key, nil
		}
	}
	return "", pkgerrors.New(pkgerrors.CodeInternal, "exhausted license key generation attempts")
}

func (s *service) GetLicense(ctx context.Context, id uuid.UUID) (*models.License, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "license id is required")
	}
	return s.findLicense(ctx, id)
}

func (s *service) ListLicenses(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.OwnerUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner_user_id is required")
	}

	limit := pkgpagination.NormalizeLimit(params.Limit)
	query := listQuery{
		ownerUserID: params.OwnerUserID,
		limit:       pkgpagination.LimitWithBuffer(params.Limit),
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
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list licenses")
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

func (s *service) SuspendLicense(ctx context.Context, id uuid.UUID) (*models.License, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "license id is required")
	}
	license, err := s.findLicense(ctx, id)
	if err != nil {
		return nil, err
	}
	if license.Status != enums.LicenseStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only active licenses can be suspended")
	}
	// Suspension leaves activation rows untouched so reactivation restores the
	// previous device set without another round of activations.
	if err := s.repo.UpdateStatus(ctx, id, enums.LicenseStatusSuspended); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "suspend license")
	}
	license.Status = enums.LicenseStatusSuspended
	return license, nil
}

func (s *service) RevokeLicense(ctx context.Context, id uuid.UUID) (*models.License, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "license id is required")
	}
	license, err := s.findLicense(ctx, id)
	if err != nil {
		return nil, err
	}
	if license.Status != enums.LicenseStatusActive && license.Status != enums.LicenseStatusSuspended {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "license cannot be revoked in its current state")
	}

	// Revocation cascades: every active device is forced off and the cached
	// counter is reset in the same transaction as the status flip.
	now := s.now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.UpdateStatusWithTx(tx, id, enums.LicenseStatusRevoked); err != nil {
			return fmt.Errorf("update license status: %w", err)
		}
		if err := s.activations.DeactivateAllActiveWithTx(tx, id, now); err != nil {
			return fmt.Errorf("deactivate license devices: %w", err)
		}
		if err := s.repo.ResetActivationsWithTx(tx, id); err != nil {
			return fmt.Errorf("reset activation counter: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke license")
	}

	license.Status = enums.LicenseStatusRevoked
	license.CurrentActivations = 0
	return license, nil
}

func (s *service) ReactivateLicense(ctx context.Context, id uuid.UUID) (*models.License, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "license id is required")
	}
	license, err := s.findLicense(ctx, id)
	if err != nil {
		return nil, err
	}
	if license.Status != enums.LicenseStatusSuspended {
		// Revoked licenses take the same path as any other non-suspended state.
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only suspended licenses can be reactivated")
	}
	if err := s.repo.UpdateStatus(ctx, id, enums.LicenseStatusActive); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reactivate license")
	}
	license.Status = enums.LicenseStatusActive
	return license, nil
}

func (s *service) findLicense(ctx context.Context, id uuid.UUID) (*models.License, error) {
	license, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "license not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup license")
	}
	return license, nil
}
