package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/rephlo/rephlo-server/pkg/enums"
)

// Subscription persists cloud/BYOK subscription state per user.
// MonthlyCreditAllocation caches the current tier allocation so the credit
// upgrade orchestrator can compare against the tier's new value cheaply.
type Subscription struct {
	ID                      uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                  uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	TierName                string                   `gorm:"column:tier_name;not null;index"`
	Status                  enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'active'"`
	Mode                    enums.SubscriptionMode   `gorm:"column:mode;type:subscription_mode;not null;default:'cloud'"`
	MonthlyCreditAllocation int64                    `gorm:"column:monthly_credit_allocation;not null;default:0"`
	Features                pq.StringArray           `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	CurrentPeriodEnd        time.Time                `gorm:"column:current_period_end;not null"`
	CreatedAt               time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
