package models

import (
	"time"

	"github.com/google/uuid"
)

// CreditAllocation records one credit grant applied to a subscriber during a
// tier-wide upgrade. Append-only.
type CreditAllocation struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID         uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	SubscriptionID uuid.UUID `gorm:"column:subscription_id;type:uuid;not null;index"`
	TierName       string    `gorm:"column:tier_name;not null"`
	Credits        int64     `gorm:"column:credits;not null"`
	Reason         string    `gorm:"column:reason;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
