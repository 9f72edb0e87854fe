package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rephlo/rephlo-server/pkg/enums"
)

// VersionUpgrade is an append-only audit record of a paid major-version jump.
// Completion advances the owning license's eligible-until version.
type VersionUpgrade struct {
	ID               uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	LicenseID        uuid.UUID                  `gorm:"column:license_id;type:uuid;not null;index"`
	FromVersion      string                     `gorm:"column:from_version;not null"`
	ToVersion        string                     `gorm:"column:to_version;not null"`
	UpgradePriceUSD  decimal.Decimal            `gorm:"column:upgrade_price_usd;type:numeric(12,2);not null"`
	PaymentReference *string                    `gorm:"column:payment_reference"`
	Status           enums.VersionUpgradeStatus `gorm:"column:status;type:version_upgrade_status;not null;default:'pending'"`
	CreatedAt        time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}
