package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rephlo/rephlo-server/pkg/enums"
)

// License is a perpetual entitlement bound to a purchased major version.
// CurrentActivations caches the count of active Activation rows and is only
// ever mutated through conditional updates so the cap holds under load.
type License struct {
	ID                   uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerUserID          uuid.UUID           `gorm:"column:owner_user_id;type:uuid;not null;index"`
	LicenseKey           string              `gorm:"column:license_key;not null;unique"`
	PurchasePriceUSD     decimal.Decimal     `gorm:"column:purchase_price_usd;type:numeric(12,2);not null"`
	PurchasedVersion     string              `gorm:"column:purchased_version;not null"`
	EligibleUntilVersion string              `gorm:"column:eligible_until_version;not null"`
	Status               enums.LicenseStatus `gorm:"column:status;type:license_status;not null;default:'pending'"`
	MaxActivations       int                 `gorm:"column:max_activations;not null;default:3"`
	CurrentActivations   int                 `gorm:"column:current_activations;not null;default:0"`
	PurchasedAt          time.Time           `gorm:"column:purchased_at;not null"`
	ActivatedAt          *time.Time          `gorm:"column:activated_at"`
	CreatedAt            time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
