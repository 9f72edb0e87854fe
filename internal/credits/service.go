package credits

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rephlo/rephlo-server/pkg/db/models"
	pkgerrors "github.com/rephlo/rephlo-server/pkg/errors"
	"github.com/rephlo/rephlo-server/pkg/logger"
)

type subscriptionsRepository interface {
	ListActiveCloudByTier(ctx context.Context, tierName string) ([]models.Subscription, error)
	IncrementAllocationWithTx(tx *gorm.DB, id uuid.UUID, delta int64) error
}

type allocationsRepository interface {
	CreateWithTx(tx *gorm.DB, allocation *models.CreditAllocation) error
}

type balancesRepository interface {
	IncrementWithTx(tx *gorm.DB, userID uuid.UUID, delta int64) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// UpgradeError tags one subscriber's failed grant within a batch.
type UpgradeError struct {
	UserID  uuid.UUID      `json:"user_id"`
	Code    pkgerrors.Code `json:"code"`
	Message string         `json:"message"`
}

// UpgradeResult summarizes a tier-wide credit upgrade run. Subscribers whose
// allocation already meets the new amount are counted as skipped, not
// successful, so the summary reflects actual grants.
type UpgradeResult struct {
	TotalProcessed int            `json:"total_processed"`
	Successful     int            `json:"successful"`
	Skipped        int            `json:"skipped"`
	Failed         int            `json:"failed"`
	Errors         []UpgradeError `json:"errors,omitempty"`
}

// Service applies tier-wide credit allocation changes to subscribers.
type Service interface {
	ProcessTierUpgrade(ctx context.Context, tierName string, oldCredits, newCredits int64, reason string) (*UpgradeResult, error)
}

type service struct {
	subscriptions subscriptionsRepository
	allocations   allocationsRepository
	balances      balancesRepository
	tx            txRunner
	logg          *logger.Logger
	now           func() time.Time
}

// ServiceParams collects the collaborators NewService wires together.
type ServiceParams struct {
	Subscriptions subscriptionsRepository
	Allocations   allocationsRepository
	Balances      balancesRepository
	Tx            txRunner
	Logger        *logger.Logger
	Now           func() time.Time
}

// NewService builds a credit upgrade service.
func NewService(p ServiceParams) (Service, error) {
	if p.Subscriptions == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if p.Allocations == nil {
		return nil, fmt.Errorf("allocation repository required")
	}
	if p.Balances == nil {
		return nil, fmt.Errorf("balance repository required")
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
		subscriptions: p.Subscriptions,
		allocations:   p.Allocations,
		balances:      p.Balances,
		tx:            p.Tx,
		logg:          p.Logger,
		now:           p.Now,
	}, nil
}

// IsEligible reports whether a subscriber's cached allocation qualifies for
// the new tier amount. Strictly less than: equal allocations have nothing to
// gain and are skipped.
func IsEligible(currentAllocation, newCredits int64) bool {
	return currentAllocation < newCredits
}

// ProcessTierUpgrade grants the allocation delta to every active cloud-mode
// subscriber on the tier. Each subscriber's three writes commit or roll back
// together; failures are collected and the batch keeps going. Only upgrades
// apply, a lowered allocation is a no-op.
func (s *service) ProcessTierUpgrade(ctx context.Context, tierName string, oldCredits, newCredits int64, reason string) (*UpgradeResult, error) {
	tierName = strings.TrimSpace(tierName)
	if tierName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tier name is required")
	}
	if oldCredits < 0 || newCredits < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit amounts must not be negative")
	}

	result := &UpgradeResult{}
	if newCredits <= oldCredits {
		s.logg.Warn(s.logg.WithField(ctx, "tier", tierName), "tier credit change is not an upgrade, skipping")
		return result, nil
	}

	subs, err := s.subscriptions.ListActiveCloudByTier(ctx, tierName)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list tier subscribers")
	}

	delta := newCredits - oldCredits
	for i := range subs {
		sub := subs[i]
		result.TotalProcessed++

		if !IsEligible(sub.MonthlyCreditAllocation, newCredits) {
			result.Skipped++
			continue
		}

		if err := s.grant(ctx, sub, tierName, delta, reason); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, toUpgradeError(sub.UserID, err))
			errCtx := s.logg.WithUserID(ctx, sub.UserID.String())
			s.logg.Error(errCtx, "credit grant failed for subscriber", err)
			continue
		}
		result.Successful++
	}
	return result, nil
}

func (s *service) grant(ctx context.Context, sub models.Subscription, tierName string, delta int64, reason string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		allocation := &models.CreditAllocation{
			ID:             uuid.New(),
			UserID:         sub.UserID,
			SubscriptionID: sub.ID,
			TierName:       tierName,
			Credits:        delta,
			Reason:         reason,
		}
		if err := s.allocations.CreateWithTx(tx, allocation); err != nil {
			return fmt.Errorf("record allocation: %w", err)
		}
		if err := s.balances.IncrementWithTx(tx, sub.UserID, delta); err != nil {
			return fmt.Errorf("increment balance: %w", err)
		}
		if err := s.subscriptions.IncrementAllocationWithTx(tx, sub.ID, delta); err != nil {
			return fmt.Errorf("update cached allocation: %w", err)
		}
		return nil
	})
}

func toUpgradeError(userID uuid.UUID, err error) UpgradeError {
	if coded := pkgerrors.As(err); coded != nil {
		return UpgradeError{UserID: userID, Code: coded.Code(), Message: coded.Error()}
	}
	return UpgradeError{UserID: userID, Code: pkgerrors.CodeDependency, Message: err.Error()}
}
