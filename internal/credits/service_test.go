package credits

import (
	"context"
	"errors"
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

type stubSubscriptionsRepo struct {
	subs       []models.Subscription
	listErr    error
	increments map[uuid.UUID]int64
	failIncFor map[uuid.UUID]error
}

func (s *stubSubscriptionsRepo) ListActiveCloudByTier(ctx context.Context, tierName string) ([]models.Subscription, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.subs, nil
}

func (s *stubSubscriptionsRepo) IncrementAllocationWithTx(tx *gorm.DB, id uuid.UUID, delta int64) error {
	if err, ok := s.failIncFor[id]; ok {
		return err
	}
	if s.increments == nil {
		s.increments = map[uuid.UUID]int64{}
	}
	s.increments[id] += delta
	return nil
}

type stubAllocationsRepo struct {
	created     []*models.CreditAllocation
	failForUser map[uuid.UUID]error
}

func (s *stubAllocationsRepo) CreateWithTx(tx *gorm.DB, allocation *models.CreditAllocation) error {
	if err, ok := s.failForUser[allocation.UserID]; ok {
		return err
	}
	s.created = append(s.created, allocation)
	return nil
}

type stubBalancesRepo struct {
	balances map[uuid.UUID]int64
	failFor  map[uuid.UUID]error
}

func (s *stubBalancesRepo) IncrementWithTx(tx *gorm.DB, userID uuid.UUID, delta int64) error {
	if err, ok := s.failFor[userID]; ok {
		return err
	}
	if s.balances == nil {
		s.balances = map[uuid.UUID]int64{}
	}
	s.balances[userID] += delta
	return nil
}

type stubTxRunner struct {
	calls  int
	failed int
}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.calls++
	if err := fn(nil); err != nil {
		s.failed++
		return err
	}
	return nil
}

func cloudSub(tier string, allocation int64) models.Subscription {
	return models.Subscription{
		ID:                      uuid.New(),
		UserID:                  uuid.New(),
		TierName:                tier,
		Status:                  enums.SubscriptionStatusActive,
		Mode:                    enums.SubscriptionModeCloud,
		MonthlyCreditAllocation: allocation,
		CurrentPeriodEnd:        time.Now().Add(24 * time.Hour),
	}
}

func newServiceForTests(subs *stubSubscriptionsRepo) (Service, *stubSubscriptionsRepo, *stubAllocationsRepo, *stubBalancesRepo, *stubTxRunner) {
	if subs == nil {
		subs = &stubSubscriptionsRepo{}
	}
	allocations := &stubAllocationsRepo{}
	balances := &stubBalancesRepo{}
	tx := &stubTxRunner{}
	svc, err := NewService(ServiceParams{
		Subscriptions: subs,
		Allocations:   allocations,
		Balances:      balances,
		Tx:            tx,
		Logger:        logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled}),
	})
	if err != nil {
		panic(err)
	}
	return svc, subs, allocations, balances, tx
}

func TestIsEligibleStrictlyLessThan(t *testing.T) {
	if !IsEligible(100, 150) {
		t.Fatal("expected 100 < 150 to be eligible")
	}
	if IsEligible(150, 150) {
		t.Fatal("expected equal allocations to be ineligible")
	}
	if IsEligible(200, 150) {
		t.Fatal("expected higher allocation to be ineligible")
	}
}

func TestProcessTierUpgradeGrantsDelta(t *testing.T) {
	subA := cloudSub("pro", 100)
	subB := cloudSub("pro", 100)
	svc, subsRepo, allocations, balances, tx := newServiceForTests(&stubSubscriptionsRepo{subs: []models.Subscription{subA, subB}})

	result, err := svc.ProcessTierUpgrade(context.Background(), "pro", 100, 150, "tier refresh")
	if err != nil {
		t.Fatalf("ProcessTierUpgrade returned error: %v", err)
	}
	if result.TotalProcessed != 2 || result.Successful != 2 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(allocations.created) != 2 {
		t.Fatalf("expected 2 allocation rows, got %d", len(allocations.created))
	}
	for _, alloc := range allocations.created {
		if alloc.Credits != 50 {
			t.Fatalf("expected delta 50, got %d", alloc.Credits)
		}
		if alloc.Reason != "tier refresh" {
			t.Fatalf("unexpected reason %q", alloc.Reason)
		}
	}
	if balances.balances[subA.UserID] != 50 || balances.balances[subB.UserID] != 50 {
		t.Fatalf("unexpected balances: %v", balances.balances)
	}
	if subsRepo.increments[subA.ID] != 50 || subsRepo.increments[subB.ID] != 50 {
		t.Fatalf("unexpected cached allocation updates: %v", subsRepo.increments)
	}
	if tx.calls != 2 {
		t.Fatalf("expected one transaction per subscriber, got %d", tx.calls)
	}
}

func TestProcessTierUpgradeNoOpWhenNotAnUpgrade(t *testing.T) {
	svc, _, allocations, _, tx := newServiceForTests(&stubSubscriptionsRepo{subs: []models.Subscription{cloudSub("pro", 100)}})

	result, err := svc.ProcessTierUpgrade(context.Background(), "pro", 150, 150, "no-op")
	if err != nil {
		t.Fatalf("ProcessTierUpgrade returned error: %v", err)
	}
	if result.TotalProcessed != 0 || result.Successful != 0 || result.Failed != 0 {
		t.Fatalf("expected all-zero result, got %+v", result)
	}
	if len(allocations.created) != 0 || tx.calls != 0 {
		t.Fatal("expected no writes for a non-upgrade")
	}

	result, err = svc.ProcessTierUpgrade(context.Background(), "pro", 150, 100, "downgrade")
	if err != nil {
		t.Fatalf("ProcessTierUpgrade returned error: %v", err)
	}
	if result.TotalProcessed != 0 {
		t.Fatalf("expected all-zero result for downgrade, got %+v", result)
	}
}

func TestProcessTierUpgradeSkipsAlreadyUpgraded(t *testing.T) {
	ahead := cloudSub("pro", 200)
	behind := cloudSub("pro", 100)
	svc, _, allocations, _, _ := newServiceForTests(&stubSubscriptionsRepo{subs: []models.Subscription{ahead, behind}})

	result, err := svc.ProcessTierUpgrade(context.Background(), "pro", 100, 150, "refresh")
	if err != nil {
		t.Fatalf("ProcessTierUpgrade returned error: %v", err)
	}
	if result.TotalProcessed != 2 || result.Successful != 1 || result.Skipped != 1 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(allocations.created) != 1 {
		t.Fatalf("expected only the behind subscriber granted, got %d", len(allocations.created))
	}
	if allocations.created[0].UserID != behind.UserID {
		t.Fatal("granted the wrong subscriber")
	}
}

func TestProcessTierUpgradeCollectsPerUserFailures(t *testing.T) {
	good := cloudSub("pro", 100)
	bad := cloudSub("pro", 100)
	subsRepo := &stubSubscriptionsRepo{subs: []models.Subscription{good, bad}}
	svc, _, allocations, balances, _ := newServiceForTests(subsRepo)
	balances.failFor = map[uuid.UUID]error{bad.UserID: errors.New("balance write failed")}

	result, err := svc.ProcessTierUpgrade(context.Background(), "pro", 100, 150, "refresh")
	if err != nil {
		t.Fatalf("ProcessTierUpgrade returned error: %v", err)
	}
	if result.TotalProcessed != 2 || result.Successful != 1 || result.Failed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected one tagged error, got %d", len(result.Errors))
	}
	tagged := result.Errors[0]
	if tagged.UserID != bad.UserID {
		t.Fatal("error tagged with the wrong user")
	}
	if tagged.Code != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency code, got %s", tagged.Code)
	}
	if tagged.Message == "" {
		t.Fatal("expected a message on the tagged error")
	}
	if len(allocations.created) != 1 || allocations.created[0].UserID != good.UserID {
		t.Fatal("expected only the healthy subscriber granted")
	}
}

func TestProcessTierUpgradeAbortsWhenCandidateQueryFails(t *testing.T) {
	svc, _, _, _, _ := newServiceForTests(&stubSubscriptionsRepo{listErr: errors.New("db down")})

	_, err := svc.ProcessTierUpgrade(context.Background(), "pro", 100, 150, "refresh")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestProcessTierUpgradeValidation(t *testing.T) {
	svc, _, _, _, _ := newServiceForTests(nil)

	_, err := svc.ProcessTierUpgrade(context.Background(), " ", 100, 150, "refresh")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = svc.ProcessTierUpgrade(context.Background(), "pro", -1, 150, "refresh")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
