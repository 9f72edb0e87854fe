package credits

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rephlo/rephlo-server/internal/repo"
	"github.com/rephlo/rephlo-server/pkg/db/models"
	"github.com/rephlo/rephlo-server/pkg/enums"
)

// SubscriptionsRepository exposes the subscription reads and writes the
// upgrade orchestrator needs.
type SubscriptionsRepository struct {
	repo.Base
}

// NewSubscriptionsRepository constructs a subscription repository.
func NewSubscriptionsRepository(db *gorm.DB) *SubscriptionsRepository {
	return &SubscriptionsRepository{Base: repo.NewBase(db)}
}

// ListActiveCloudByTier returns the upgrade candidate set: active cloud-mode
// subscriptions on the tier. BYOK subscribers bring their own provider keys
// and receive no platform credits.
func (r *SubscriptionsRepository) ListActiveCloudByTier(ctx context.Context, tierName string) ([]models.Subscription, error) {
	var rows []models.Subscription
	err := r.DB(ctx).
		Where("tier_name = ? AND status = ? AND mode = ?", tierName, enums.SubscriptionStatusActive, enums.SubscriptionModeCloud).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// IncrementAllocationWithTx bumps the cached monthly allocation inside the
// provided transaction.
func (r *SubscriptionsRepository) IncrementAllocationWithTx(tx *gorm.DB, id uuid.UUID, delta int64) error {
	return tx.Model(&models.Subscription{}).
		Where("id = ?", id).
		Update("monthly_credit_allocation", gorm.Expr("monthly_credit_allocation + ?", delta)).Error
}

// AllocationsRepository persists credit grant audit rows.
type AllocationsRepository struct {
	repo.Base
}

// NewAllocationsRepository constructs an allocation repository.
func NewAllocationsRepository(db *gorm.DB) *AllocationsRepository {
	return &AllocationsRepository{Base: repo.NewBase(db)}
}

// CreateWithTx inserts an allocation row inside the provided transaction.
func (r *AllocationsRepository) CreateWithTx(tx *gorm.DB, allocation *models.CreditAllocation) error {
	return tx.Create(allocation).Error
}

// BalancesRepository persists user credit balances.
type BalancesRepository struct {
	repo.Base
}

// NewBalancesRepository constructs a balance repository.
func NewBalancesRepository(db *gorm.DB) *BalancesRepository {
	return &BalancesRepository{Base: repo.NewBase(db)}
}

// IncrementWithTx adds to the user's balance, creating the row on first grant.
func (r *BalancesRepository) IncrementWithTx(tx *gorm.DB, userID uuid.UUID, delta int64) error {
	now := time.Now().UTC()
	return tx.Exec(
		`INSERT INTO credit_balances (user_id, balance, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET balance = credit_balances.balance + ?, updated_at = ?`,
		userID, delta, now, delta, now,
	).Error
}
