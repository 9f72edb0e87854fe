package activations

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/rephlo/rephlo-server/pkg/db/models"
	"github.com/rephlo/rephlo-server/pkg/enums"
	pkgerrors "github.com/rephlo/rephlo-server/pkg/errors"
	"github.com/rephlo/rephlo-server/pkg/logger"
)

// stubLicenseRepo mimics the conditional counter update with a mutex so the
// concurrency test exercises the same win-or-lose semantics as the SQL.
type stubLicenseRepo struct {
	mu            sync.Mutex
	license       *models.License
	findErr       error
	markActivated bool
}

func (s *stubLicenseRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.license == nil {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *s.license
	return &copied, nil
}

func (s *stubLicenseRepo) FindByKey(ctx context.Context, key string) (*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.license == nil || s.license.LicenseKey != key {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *s.license
	return &copied, nil
}

func (s *stubLicenseRepo) IncrementActivationsWithTx(tx *gorm.DB, id uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.license.CurrentActivations >= s.license.MaxActivations {
		return 0, nil
	}
	s.license.CurrentActivations++
	return 1, nil
}

func (s *stubLicenseRepo) DecrementActivationsWithTx(tx *gorm.DB, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.license.CurrentActivations > 0 {
		s.license.CurrentActivations--
	}
	return nil
}

func (s *stubLicenseRepo) MarkActivatedWithTx(tx *gorm.DB, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markActivated = true
	if s.license.ActivatedAt == nil {
		s.license.ActivatedAt = &at
		s.license.Status = enums.LicenseStatusActive
	}
	return nil
}

type stubActivationRepo struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*models.Activation
	touched   []uuid.UUID
	elsewhere int64
	countErr  error

	// Hooks fire after a lookup's snapshot is taken, so tests can interleave
	// a competing writer at the exact point a real request would race.
	afterFind              func()
	afterFingerprintLookup func()
}

func newStubActivationRepo() *stubActivationRepo {
	return &stubActivationRepo{rows: map[uuid.UUID]*models.Activation{}}
}

func (s *stubActivationRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Activation, error) {
	s.mu.Lock()
	row, ok := s.rows[id]
	var copied models.Activation
	if ok {
		copied = *row
	}
	s.mu.Unlock()
	if s.afterFind != nil {
		s.afterFind()
	}
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &copied, nil
}

func (s *stubActivationRepo) FindActiveByFingerprint(ctx context.Context, licenseID uuid.UUID, fingerprint string) (*models.Activation, error) {
	s.mu.Lock()
	var found *models.Activation
	for _, row := range s.rows {
		if row.LicenseID == licenseID && row.MachineFingerprint == fingerprint && row.Status == enums.ActivationStatusActive {
			copied := *row
			found = &copied
			break
		}
	}
	s.mu.Unlock()
	if hook := s.afterFingerprintLookup; hook != nil {
		s.afterFingerprintLookup = nil
		hook()
	}
	return found, nil
}

func (s *stubActivationRepo) FindActiveByFingerprintWithTx(tx *gorm.DB, licenseID uuid.UUID, fingerprint string) (*models.Activation, error) {
	return s.FindActiveByFingerprint(context.Background(), licenseID, fingerprint)
}

func (s *stubActivationRepo) CountActiveElsewhere(ctx context.Context, fingerprint string, excludeLicenseID uuid.UUID) (int64, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.elsewhere, nil
}

func (s *stubActivationRepo) TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, id)
	if row, ok := s.rows[id]; ok {
		row.LastSeenAt = at
	}
	return nil
}

func (s *stubActivationRepo) List(ctx context.Context, opts listQuery) ([]models.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Activation
	for _, row := range s.rows {
		if row.LicenseID == opts.licenseID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *stubActivationRepo) CreateWithTx(tx *gorm.DB, activation *models.Activation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *activation
	s.rows[activation.ID] = &copied
	return nil
}

func (s *stubActivationRepo) UpdateStatusWithTx(tx *gorm.DB, id uuid.UUID, status enums.ActivationStatus, deactivatedAt *time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.Status != enums.ActivationStatusActive {
		return 0, nil
	}
	row.Status = status
	row.DeactivatedAt = deactivatedAt
	return 1, nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (stubTxRunner) WithTxIsolation(ctx context.Context, _ sql.IsolationLevel, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

// rollbackTxRunner restores the counter on a failed transaction the way a
// real rollback would. Serial tests only.
type rollbackTxRunner struct {
	lic *stubLicenseRepo
}

func (r rollbackTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.run(fn)
}

func (r rollbackTxRunner) WithTxIsolation(ctx context.Context, _ sql.IsolationLevel, fn func(tx *gorm.DB) error) error {
	return r.run(fn)
}

func (r rollbackTxRunner) run(fn func(tx *gorm.DB) error) error {
	r.lic.mu.Lock()
	before := r.lic.license.CurrentActivations
	r.lic.mu.Unlock()
	if err := fn(nil); err != nil {
		r.lic.mu.Lock()
		r.lic.license.CurrentActivations = before
		r.lic.mu.Unlock()
		return err
	}
	return nil
}

func testLicense() *models.License {
	return &models.License{
		ID:             uuid.New(),
		OwnerUserID:    uuid.New(),
		LicenseKey:     "REPHLO-AAAA-BBBB-CCCC-DDDD",
		Status:         enums.LicenseStatusActive,
		MaxActivations: 3,
	}
}

func testDevice(n string) DeviceInfo {
	return DeviceInfo{
		CPUID:      "cpu-" + n,
		MACAddress: "mac-" + n,
		DiskSerial: "disk-" + n,
		OSVersion:  "14.2",
		DeviceName: "machine-" + n,
		OSType:     "darwin",
	}
}

func newServiceForTests(license *models.License) (Service, *stubLicenseRepo, *stubActivationRepo) {
	licRepo := &stubLicenseRepo{license: license}
	actRepo := newStubActivationRepo()
	svc, err := NewService(ServiceParams{
		Licenses: licRepo,
		Repo:     actRepo,
		Tx:       stubTxRunner{},
		Logger:   logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled}),
	})
	if err != nil {
		panic(err)
	}
	return svc, licRepo, actRepo
}

func TestActivateDeviceCreatesActivation(t *testing.T) {
	license := testLicense()
	svc, licRepo, _ := newServiceForTests(license)

	result, err := svc.ActivateDevice(context.Background(), license.LicenseKey, testDevice("1"))
	if err != nil {
		t.Fatalf("ActivateDevice returned error: %v", err)
	}
	if !result.IsNew {
		t.Fatal("expected a new activation")
	}
	if result.Activation.Status != enums.ActivationStatusActive {
		t.Fatalf("expected active status, got %s", result.Activation.Status)
	}
	if license.CurrentActivations != 1 {
		t.Fatalf("expected counter 1, got %d", license.CurrentActivations)
	}
	if !licRepo.markActivated {
		t.Fatal("expected first activation to stamp the license")
	}
}

func TestActivateDeviceIdempotentForSameFingerprint(t *testing.T) {
	license := testLicense()
	svc, _, actRepo := newServiceForTests(license)

	first, err := svc.ActivateDevice(context.Background(), license.LicenseKey, testDevice("1"))
	if err != nil {
		t.Fatalf("first activation failed: %v", err)
	}
	second, err := svc.ActivateDevice(context.Background(), license.LicenseKey, testDevice("1"))
	if err != nil {
		t.Fatalf("second activation failed: %v", err)
	}
	if second.IsNew {
		t.Fatal("expected idempotent re-activation")
	}
	if second.Activation.ID != first.Activation.ID {
		t.Fatal("expected the same activation row")
	}
	if license.CurrentActivations != 1 {
		t.Fatalf("expected counter 1 after re-activation, got %d", license.CurrentActivations)
	}
	if len(actRepo.touched) == 0 {
		t.Fatal("expected last-seen refresh")
	}
}

func TestActivateDeviceEnforcesCap(t *testing.T) {
	license := testLicense()
	svc, _, _ := newServiceForTests(license)

	for i := 0; i < 3; i++ {
		if _, err := svc.ActivateDevice(context.Background(), license.LicenseKey, testDevice(string(rune('a'+i)))); err != nil {
			t.Fatalf("activation %d failed: %v", i, err)
		}
	}

	_, err := svc.ActivateDevice(context.Background(), license.LicenseKey, testDevice("overflow"))
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeLimitExceeded {
		t.Fatalf("expected limit exceeded, got %v", err)
	}
	if typed.Message() == "" || license.CurrentActivations != 3 {
		t.Fatalf("cap state corrupted: %d", license.CurrentActivations)
	}
}

func TestActivateDeviceConcurrentCapHolds(t *testing.T) {
	license := testLicense()
	svc, _, actRepo := newServiceForTests(license)

	const attempts = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	limitErrors := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.ActivateDevice(context.Background(), license.LicenseKey, testDevice(string(rune('a'+n))))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeLimitExceeded {
				limitErrors++
			}
		}(i)
	}
	wg.Wait()

	if successes != 3 {
		t.Fatalf("expected exactly 3 successful activations, got %d", successes)
	}
	if limitErrors != attempts-3 {
		t.Fatalf("expected %d limit errors, got %d", attempts-3, limitErrors)
	}
	if license.CurrentActivations != 3 {
		t.Fatalf("expected counter 3, got %d", license.CurrentActivations)
	}
	active := 0
	for _, row := range actRepo.rows {
		if row.Status == enums.ActivationStatusActive {
			active++
		}
	}
	if active != 3 {
		t.Fatalf("expected 3 active rows, got %d", active)
	}
}

func TestActivateDeviceRejectsRevokedWithoutLeaking(t *testing.T) {
	license := testLicense()
	license.Status = enums.LicenseStatusRevoked
	svc, _, _ := newServiceForTests(license)

	_, err := svc.ActivateDevice(context.Background(), license.LicenseKey, testDevice("1"))
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if typed.Message() != "license is not available for activation" {
		t.Fatalf("revoked message leaks state: %q", typed.Message())
	}
}

func TestActivateDeviceRejectsSuspended(t *testing.T) {
	license := testLicense()
	license.Status = enums.LicenseStatusSuspended
	svc, _, _ := newServiceForTests(license)

	_, err := svc.ActivateDevice(context.Background(), license.LicenseKey, testDevice("1"))
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestActivateDeviceRequiresIdentifiers(t *testing.T) {
	license := testLicense()
	svc, _, _ := newServiceForTests(license)

	device := testDevice("1")
	device.DiskSerial = " "
	_, err := svc.ActivateDevice(context.Background(), license.LicenseKey, device)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeactivateDeviceFreesSlot(t *testing.T) {
	license := testLicense()
	svc, _, _ := newServiceForTests(license)

	result, err := svc.ActivateDevice(context.Background(), license.LicenseKey, testDevice("1"))
	if err != nil {
		t.Fatalf("activation failed: %v", err)
	}

	deactivated, err := svc.DeactivateDevice(context.Background(), result.Activation.ID)
	if err != nil {
		t.Fatalf("DeactivateDevice returned error: %v", err)
	}
	if deactivated.Status != enums.ActivationStatusDeactivated {
		t.Fatalf("expected deactivated, got %s", deactivated.Status)
	}
	if deactivated.DeactivatedAt == nil {
		t.Fatal("expected deactivation timestamp")
	}
	if license.CurrentActivations != 0 {
		t.Fatalf("expected counter 0, got %d", license.CurrentActivations)
	}
}

func TestDeactivateDeviceRejectsTerminalStates(t *testing.T) {
	license := testLicense()
	svc, _, _ := newServiceForTests(license)

	result, err := svc.ActivateDevice(context.Background(), license.LicenseKey, testDevice("1"))
	if err != nil {
		t.Fatalf("activation failed: %v", err)
	}
	if _, err := svc.DeactivateDevice(context.Background(), result.Activation.ID); err != nil {
		t.Fatalf("first deactivation failed: %v", err)
	}

	_, err = svc.DeactivateDevice(context.Background(), result.Activation.ID)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict on repeat deactivation, got %v", err)
	}
}

func TestDeactivateDeviceConcurrentDecrementsOnce(t *testing.T) {
	license := testLicense()
	svc, _, actRepo := newServiceForTests(license)

	target, err := svc.ActivateDevice(context.Background(), license.LicenseKey, testDevice("a"))
	if err != nil {
		t.Fatalf("activation failed: %v", err)
	}
	if _, err := svc.ActivateDevice(context.Background(), license.LicenseKey, testDevice("b")); err != nil {
		t.Fatalf("activation failed: %v", err)
	}

	// Hold both requests at the status read so each sees the row active
	// before either transaction runs.
	var gate sync.WaitGroup
	gate.Add(2)
	actRepo.afterFind = func() {
		gate.Done()
		gate.Wait()
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	conflicts := 0
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.DeactivateDevice(context.Background(), target.Activation.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeStateConflict {
				conflicts++
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || conflicts != 1 {
		t.Fatalf("expected one winner and one conflict, got %d/%d", succeeded, conflicts)
	}
	if license.CurrentActivations != 1 {
		t.Fatalf("expected counter 1, got %d", license.CurrentActivations)
	}
	active := 0
	for _, row := range actRepo.rows {
		if row.Status == enums.ActivationStatusActive {
			active++
		}
	}
	if active != license.CurrentActivations {
		t.Fatalf("counter %d does not match %d active rows", license.CurrentActivations, active)
	}
}

func TestActivateDeviceSameDeviceRaceConsumesOneSlot(t *testing.T) {
	license := testLicense()
	licRepo := &stubLicenseRepo{license: license}
	actRepo := newStubActivationRepo()
	svc, err := NewService(ServiceParams{
		Licenses: licRepo,
		Repo:     actRepo,
		Tx:       rollbackTxRunner{lic: licRepo},
		Logger:   logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled}),
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	device := testDevice("1")
	fingerprint := HashFingerprint(device.CPUID, device.MACAddress, device.DiskSerial, device.OSVersion)

	// A competing request for the same device commits right after this one's
	// fast-path lookup comes back empty.
	winner := &models.Activation{
		ID:                 uuid.New(),
		LicenseID:          license.ID,
		OwnerUserID:        license.OwnerUserID,
		MachineFingerprint: fingerprint,
		Status:             enums.ActivationStatusActive,
	}
	actRepo.afterFingerprintLookup = func() {
		if err := actRepo.CreateWithTx(nil, winner); err != nil {
			t.Errorf("seeding competing activation failed: %v", err)
		}
		licRepo.mu.Lock()
		license.CurrentActivations++
		licRepo.mu.Unlock()
	}

	result, err := svc.ActivateDevice(context.Background(), license.LicenseKey, device)
	if err != nil {
		t.Fatalf("ActivateDevice returned error: %v", err)
	}
	if result.IsNew {
		t.Fatal("expected the committed activation back, not a second row")
	}
	if result.Activation.ID != winner.ID {
		t.Fatal("expected the competing activation's row")
	}
	if license.CurrentActivations != 1 {
		t.Fatalf("expected one consumed slot, got %d", license.CurrentActivations)
	}
	active := 0
	for _, row := range actRepo.rows {
		if row.Status == enums.ActivationStatusActive {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("expected one active row for the device, got %d", active)
	}
	if len(actRepo.touched) == 0 {
		t.Fatal("expected last-seen refresh on the surviving row")
	}
}

func TestReplaceDeviceNetZeroCounter(t *testing.T) {
	license := testLicense()
	svc, _, actRepo := newServiceForTests(license)

	old, err := svc.ActivateDevice(context.Background(), license.LicenseKey, testDevice("old"))
	if err != nil {
		t.Fatalf("activation failed: %v", err)
	}

	replaced, err := svc.ReplaceDevice(context.Background(), old.Activation.ID, testDevice("new"))
	if err != nil {
		t.Fatalf("ReplaceDevice returned error: %v", err)
	}
	if !replaced.IsNew {
		t.Fatal("expected a fresh activation")
	}
	if license.CurrentActivations != 1 {
		t.Fatalf("expected counter 1 after replace, got %d", license.CurrentActivations)
	}
	oldRow, err := actRepo.FindByID(context.Background(), old.Activation.ID)
	if err != nil {
		t.Fatalf("old row lookup failed: %v", err)
	}
	if oldRow.Status != enums.ActivationStatusReplaced {
		t.Fatalf("expected old row replaced, got %s", oldRow.Status)
	}
}

func TestReplaceDeviceWorksAtCap(t *testing.T) {
	license := testLicense()
	svc, _, _ := newServiceForTests(license)

	var last *ActivateResult
	for i := 0; i < 3; i++ {
		result, err := svc.ActivateDevice(context.Background(), license.LicenseKey, testDevice(string(rune('a'+i))))
		if err != nil {
			t.Fatalf("activation %d failed: %v", i, err)
		}
		last = result
	}

	// The freed slot makes room for the replacement even at the cap.
	if _, err := svc.ReplaceDevice(context.Background(), last.Activation.ID, testDevice("fresh")); err != nil {
		t.Fatalf("ReplaceDevice at cap failed: %v", err)
	}
	if license.CurrentActivations != 3 {
		t.Fatalf("expected counter 3, got %d", license.CurrentActivations)
	}
}

func TestValidateLicense(t *testing.T) {
	license := testLicense()
	svc, _, _ := newServiceForTests(license)

	ok, err := svc.ValidateLicense(context.Background(), license.LicenseKey, testDevice("1"))
	if err != nil {
		t.Fatalf("ValidateLicense returned error: %v", err)
	}
	if ok {
		t.Fatal("expected invalid before activation")
	}

	if _, err := svc.ActivateDevice(context.Background(), license.LicenseKey, testDevice("1")); err != nil {
		t.Fatalf("activation failed: %v", err)
	}

	ok, err = svc.ValidateLicense(context.Background(), license.LicenseKey, testDevice("1"))
	if err != nil {
		t.Fatalf("ValidateLicense returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected valid after activation")
	}
}

func TestDetectDuplicateNeverErrors(t *testing.T) {
	license := testLicense()
	svc, _, actRepo := newServiceForTests(license)

	actRepo.elsewhere = 2
	if !svc.DetectDuplicateAcrossLicenses(context.Background(), license.ID, "fp") {
		t.Fatal("expected duplicate signal")
	}

	actRepo.countErr = gorm.ErrInvalidDB
	if svc.DetectDuplicateAcrossLicenses(context.Background(), license.ID, "fp") {
		t.Fatal("expected lookup failure to read as no duplicate")
	}
}

func TestActivateDeviceUnknownKey(t *testing.T) {
	svc, _, _ := newServiceForTests(testLicense())

	_, err := svc.ActivateDevice(context.Background(), "REPHLO-XXXX-XXXX-XXXX-XXXX", testDevice("1"))
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
