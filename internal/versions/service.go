package versions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/rephlo/rephlo-server/pkg/db/models"
	"github.com/rephlo/rephlo-server/pkg/enums"
	pkgerrors "github.com/rephlo/rephlo-server/pkg/errors"
	pkgpagination "github.com/rephlo/rephlo-server/pkg/pagination"
)

type licensesRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.License, error)
	FindByKey(ctx context.Context, key string) (*models.License, error)
	AdvanceEligibleUntilWithTx(tx *gorm.DB, id uuid.UUID, version string) error
}

type upgradesRepository interface {
	Create(ctx context.Context, upgrade *models.VersionUpgrade) (*models.VersionUpgrade, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.VersionUpgrade, error)
	List(ctx context.Context, opts listQuery) ([]models.VersionUpgrade, error)
	UpdateStatusWithTx(tx *gorm.DB, id uuid.UUID, status enums.VersionUpgradeStatus, paymentRef *string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// EligibilityResult reports whether a license covers a requested version and,
// when it does not, what closing the gap costs.
type EligibilityResult struct {
	Eligible         bool            `json:"eligible"`
	EligibleUntil    string          `json:"eligible_until"`
	RequestedVersion string          `json:"requested_version"`
	UpgradePriceUSD  decimal.Decimal `json:"upgrade_price_usd"`
}

// Service exposes version eligibility checks and paid upgrade purchases.
type Service interface {
	CheckEligibility(ctx context.Context, licenseKey, requestedVersion string) (*EligibilityResult, error)
	PurchaseUpgrade(ctx context.Context, licenseID uuid.UUID, toVersion string) (*models.VersionUpgrade, error)
	CompleteUpgrade(ctx context.Context, upgradeID uuid.UUID, paymentReference string) (*models.VersionUpgrade, error)
	FailUpgrade(ctx context.Context, upgradeID uuid.UUID) (*models.VersionUpgrade, error)
	ListUpgrades(ctx context.Context, params ListParams) (*ListResult, error)
}

type service struct {
	licenses      licensesRepository
	upgrades      upgradesRepository
	tx            txRunner
	pricePerMajor decimal.Decimal
}

// NewService builds a version upgrade service.
func NewService(licenses licensesRepository, upgrades upgradesRepository, tx txRunner, pricePerMajor decimal.Decimal) (Service, error) {
	if licenses == nil {
		return nil, fmt.Errorf("license repository required")
	}
	if upgrades == nil {
		return nil, fmt.Errorf("upgrade repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if pricePerMajor.IsNegative() {
		return nil, fmt.Errorf("price per major must not be negative")
	}
	return &service{
		licenses:      licenses,
		upgrades:      upgrades,
		tx:            tx,
		pricePerMajor: pricePerMajor,
	}, nil
}

func (s *service) CheckEligibility(ctx context.Context, licenseKey, requestedVersion string) (*EligibilityResult, error) {
	licenseKey = strings.TrimSpace(licenseKey)
	if licenseKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "license_key is required")
	}
	if _, err := parseVersion(requestedVersion); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid requested version")
	}

	license, err := s.licenses.FindByKey(ctx, licenseKey)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "license not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup license")
	}

	eligible, err := IsEligible(license.EligibleUntilVersion, requestedVersion)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "evaluate eligibility")
	}
	price := decimal.Zero
	if !eligible {
		price, err = UpgradePrice(license.EligibleUntilVersion, requestedVersion, s.pricePerMajor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "price upgrade")
		}
	}
	return &EligibilityResult{
		Eligible:         eligible,
		EligibleUntil:    license.EligibleUntilVersion,
		RequestedVersion: strings.TrimSpace(requestedVersion),
		UpgradePriceUSD:  price,
	}, nil
}

func (s *service) PurchaseUpgrade(ctx context.Context, licenseID uuid.UUID, toVersion string) (*models.VersionUpgrade, error) {
	if licenseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "license id is required")
	}
	if _, err := parseVersion(toVersion); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target version")
	}

	license, err := s.licenses.FindByID(ctx, licenseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "license not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup license")
	}
	if license.Status == enums.LicenseStatusRevoked {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "license is not available for upgrades")
	}

	price, err := UpgradePrice(license.EligibleUntilVersion, toVersion, s.pricePerMajor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "price upgrade")
	}
	if price.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "license already covers the requested version")
	}

	upgrade := &models.VersionUpgrade{
		ID:              uuid.New(),
		LicenseID:       license.ID,
		FromVersion:     license.EligibleUntilVersion,
		ToVersion:       strings.TrimSpace(toVersion),
		UpgradePriceUSD: price,
		Status:          enums.VersionUpgradeStatusPending,
	}
	created, err := s.upgrades.Create(ctx, upgrade)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create version upgrade")
	}
	return created, nil
}

func (s *service) CompleteUpgrade(ctx context.Context, upgradeID uuid.UUID, paymentReference string) (*models.VersionUpgrade, error) {
	paymentReference = strings.TrimSpace(paymentReference)
	if paymentReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment_reference is required")
	}
	upgrade, err := s.findPendingUpgrade(ctx, upgradeID)
	if err != nil {
		return nil, err
	}

	newCeiling, err := EligibleUntilFor(upgrade.ToVersion)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "derive new eligibility ceiling")
	}

	// The upgrade record and the license ceiling move together or not at all.
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.upgrades.UpdateStatusWithTx(tx, upgrade.ID, enums.VersionUpgradeStatusCompleted, &paymentReference); err != nil {
			return fmt.Errorf("complete upgrade: %w", err)
		}
		if err := s.licenses.AdvanceEligibleUntilWithTx(tx, upgrade.LicenseID, newCeiling); err != nil {
			return fmt.Errorf("advance eligibility: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize version upgrade")
	}

	upgrade.Status = enums.VersionUpgradeStatusCompleted
	upgrade.PaymentReference = &paymentReference
	return upgrade, nil
}

func (s *service) FailUpgrade(ctx context.Context, upgradeID uuid.UUID) (*models.VersionUpgrade, error) {
	upgrade, err := s.findPendingUpgrade(ctx, upgradeID)
	if err != nil {
		return nil, err
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.upgrades.UpdateStatusWithTx(tx, upgrade.ID, enums.VersionUpgradeStatusFailed, nil)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail version upgrade")
	}
	upgrade.Status = enums.VersionUpgradeStatusFailed
	return upgrade, nil
}

func (s *service) ListUpgrades(ctx context.Context, params ListParams) (*ListResult, error) {
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

	rows, err := s.upgrades.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list version upgrades")
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

func (s *service) findPendingUpgrade(ctx context.Context, id uuid.UUID) (*models.VersionUpgrade, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "upgrade id is required")
	}
	upgrade, err := s.upgrades.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "version upgrade not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup version upgrade")
	}
	if upgrade.Status != enums.VersionUpgradeStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "version upgrade already finalized")
	}
	return upgrade, nil
}
