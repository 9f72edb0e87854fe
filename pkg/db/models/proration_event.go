package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rephlo/rephlo-server/pkg/enums"
)

// ProrationEvent is an append-only audit record of a mid-cycle tier change.
// It is created pending and flips to applied once the invoicing collaborator
// confirms the charge or credit.
type ProrationEvent struct {
	ID                     uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID         string                `gorm:"column:subscription_id;not null;index"`
	FromTier               string                `gorm:"column:from_tier;not null"`
	ToTier                 string                `gorm:"column:to_tier;not null"`
	DaysRemaining          int                   `gorm:"column:days_remaining;not null"`
	DaysInCycle            int                   `gorm:"column:days_in_cycle;not null"`
	UnusedCreditValueUSD   decimal.Decimal       `gorm:"column:unused_credit_value_usd;type:numeric(12,2);not null"`
	NewTierProratedCostUSD decimal.Decimal       `gorm:"column:new_tier_prorated_cost_usd;type:numeric(12,2);not null"`
	NetChargeUSD           decimal.Decimal       `gorm:"column:net_charge_usd;type:numeric(12,2);not null"`
	Status                 enums.ProrationStatus `gorm:"column:status;type:proration_status;not null;default:'pending'"`
	InvoiceReference       *string               `gorm:"column:invoice_reference"`
	CreatedAt              time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
