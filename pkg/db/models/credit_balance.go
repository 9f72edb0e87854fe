package models

import (
	"time"

	"github.com/google/uuid"
)

// CreditBalance tracks a user's spendable credit total.
type CreditBalance struct {
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	Balance   int64     `gorm:"column:balance;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
