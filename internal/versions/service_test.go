package versions

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/rephlo/rephlo-server/pkg/db/models"
	"github.com/rephlo/rephlo-server/pkg/enums"
	pkgerrors "github.com/rephlo/rephlo-server/pkg/errors"
)

type stubLicenseRepo struct {
	license     *models.License
	findErr     error
	advancedTo  string
	advancedErr error
}

func (s *stubLicenseRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.license == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.license, nil
}

func (s *stubLicenseRepo) FindByKey(ctx context.Context, key string) (*models.License, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.license == nil || s.license.LicenseKey != key {
		return nil, gorm.ErrRecordNotFound
	}
	return s.license, nil
}

func (s *stubLicenseRepo) AdvanceEligibleUntilWithTx(tx *gorm.DB, id uuid.UUID, version string) error {
	if s.advancedErr != nil {
		return s.advancedErr
	}
	s.advancedTo = version
	return nil
}

type stubUpgradeRepo struct {
	created    *models.VersionUpgrade
	createErr  error
	found      *models.VersionUpgrade
	findErr    error
	listRows   []models.VersionUpgrade
	lastStatus enums.VersionUpgradeStatus
	lastRef    *string
	updateErr  error
}

func (s *stubUpgradeRepo) Create(ctx context.Context, upgrade *models.VersionUpgrade) (*models.VersionUpgrade, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = upgrade
	return upgrade, nil
}

func (s *stubUpgradeRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.VersionUpgrade, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.found == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.found, nil
}

func (s *stubUpgradeRepo) List(ctx context.Context, opts listQuery) ([]models.VersionUpgrade, error) {
	return s.listRows, nil
}

func (s *stubUpgradeRepo) UpdateStatusWithTx(tx *gorm.DB, id uuid.UUID, status enums.VersionUpgradeStatus, paymentRef *string) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.lastStatus = status
	s.lastRef = paymentRef
	return nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func newServiceForTests(licenses *stubLicenseRepo, upgrades *stubUpgradeRepo) Service {
	if licenses == nil {
		licenses = &stubLicenseRepo{}
	}
	if upgrades == nil {
		upgrades = &stubUpgradeRepo{}
	}
	svc, err := NewService(licenses, upgrades, stubTxRunner{}, decimal.NewFromInt(99))
	if err != nil {
		panic(err)
	}
	return svc
}

func testVersionedLicense() *models.License {
	return &models.License{
		ID:                   uuid.New(),
		LicenseKey:           "REPHLO-AAAA-BBBB-CCCC-DDDD",
		Status:               enums.LicenseStatusActive,
		PurchasedVersion:     "1.2.0",
		EligibleUntilVersion: "1.99.99",
	}
}

func TestCheckEligibilityCovered(t *testing.T) {
	license := testVersionedLicense()
	svc := newServiceForTests(&stubLicenseRepo{license: license}, nil)

	result, err := svc.CheckEligibility(context.Background(), license.LicenseKey, "1.10.0")
	if err != nil {
		t.Fatalf("CheckEligibility returned error: %v", err)
	}
	if !result.Eligible {
		t.Fatal("expected 1.10.0 to be covered by a 1.99.99 ceiling")
	}
	if !result.UpgradePriceUSD.IsZero() {
		t.Fatalf("expected zero price for covered version, got %s", result.UpgradePriceUSD)
	}
}

func TestCheckEligibilityPricesGap(t *testing.T) {
	license := testVersionedLicense()
	svc := newServiceForTests(&stubLicenseRepo{license: license}, nil)

	result, err := svc.CheckEligibility(context.Background(), license.LicenseKey, "3.0.0")
	if err != nil {
		t.Fatalf("CheckEligibility returned error: %v", err)
	}
	if result.Eligible {
		t.Fatal("expected 3.0.0 to exceed a 1.99.99 ceiling")
	}
	if !result.UpgradePriceUSD.Equal(decimal.NewFromInt(198)) {
		t.Fatalf("expected 198 for two major steps, got %s", result.UpgradePriceUSD)
	}
}

func TestCheckEligibilityUnknownKey(t *testing.T) {
	svc := newServiceForTests(nil, nil)

	_, err := svc.CheckEligibility(context.Background(), "REPHLO-XXXX-XXXX-XXXX-XXXX", "1.0.0")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPurchaseUpgradeCreatesPendingRecord(t *testing.T) {
	license := testVersionedLicense()
	upgrades := &stubUpgradeRepo{}
	svc := newServiceForTests(&stubLicenseRepo{license: license}, upgrades)

	upgrade, err := svc.PurchaseUpgrade(context.Background(), license.ID, "2.0.0")
	if err != nil {
		t.Fatalf("PurchaseUpgrade returned error: %v", err)
	}
	if upgrade.Status != enums.VersionUpgradeStatusPending {
		t.Fatalf("expected pending, got %s", upgrade.Status)
	}
	if !upgrade.UpgradePriceUSD.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("expected 99, got %s", upgrade.UpgradePriceUSD)
	}
	if upgrade.FromVersion != "1.99.99" || upgrade.ToVersion != "2.0.0" {
		t.Fatalf("unexpected version range %s -> %s", upgrade.FromVersion, upgrade.ToVersion)
	}
	if upgrades.created == nil {
		t.Fatal("expected upgrade persisted")
	}
}

func TestPurchaseUpgradeRejectsCoveredVersion(t *testing.T) {
	license := testVersionedLicense()
	svc := newServiceForTests(&stubLicenseRepo{license: license}, nil)

	_, err := svc.PurchaseUpgrade(context.Background(), license.ID, "1.5.0")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestPurchaseUpgradeRejectsRevokedLicense(t *testing.T) {
	license := testVersionedLicense()
	license.Status = enums.LicenseStatusRevoked
	svc := newServiceForTests(&stubLicenseRepo{license: license}, nil)

	_, err := svc.PurchaseUpgrade(context.Background(), license.ID, "2.0.0")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestCompleteUpgradeAdvancesCeiling(t *testing.T) {
	license := testVersionedLicense()
	licenses := &stubLicenseRepo{license: license}
	upgrades := &stubUpgradeRepo{found: &models.VersionUpgrade{
		ID:        uuid.New(),
		LicenseID: license.ID,
		ToVersion: "2.0.0",
		Status:    enums.VersionUpgradeStatusPending,
	}}
	svc := newServiceForTests(licenses, upgrades)

	upgrade, err := svc.CompleteUpgrade(context.Background(), upgrades.found.ID, "pay_123")
	if err != nil {
		t.Fatalf("CompleteUpgrade returned error: %v", err)
	}
	if upgrade.Status != enums.VersionUpgradeStatusCompleted {
		t.Fatalf("expected completed, got %s", upgrade.Status)
	}
	if upgrade.PaymentReference == nil || *upgrade.PaymentReference != "pay_123" {
		t.Fatal("expected payment reference stored")
	}
	if licenses.advancedTo != "2.99.99" {
		t.Fatalf("expected ceiling advanced to 2.99.99, got %q", licenses.advancedTo)
	}
}

func TestCompleteUpgradeRejectsFinalized(t *testing.T) {
	upgrades := &stubUpgradeRepo{found: &models.VersionUpgrade{
		ID:     uuid.New(),
		Status: enums.VersionUpgradeStatusCompleted,
	}}
	svc := newServiceForTests(nil, upgrades)

	_, err := svc.CompleteUpgrade(context.Background(), upgrades.found.ID, "pay_123")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestFailUpgrade(t *testing.T) {
	upgrades := &stubUpgradeRepo{found: &models.VersionUpgrade{
		ID:     uuid.New(),
		Status: enums.VersionUpgradeStatusPending,
	}}
	svc := newServiceForTests(nil, upgrades)

	upgrade, err := svc.FailUpgrade(context.Background(), upgrades.found.ID)
	if err != nil {
		t.Fatalf("FailUpgrade returned error: %v", err)
	}
	if upgrade.Status != enums.VersionUpgradeStatusFailed {
		t.Fatalf("expected failed, got %s", upgrade.Status)
	}
	if upgrades.lastRef != nil {
		t.Fatal("expected no payment reference on failure")
	}
}
