package versions

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rephlo/rephlo-server/pkg/db/models"
	"github.com/rephlo/rephlo-server/pkg/enums"
	pkgpagination "github.com/rephlo/rephlo-server/pkg/pagination"
)

type ListParams struct {
	LicenseID uuid.UUID
	pkgpagination.Params
}

type ListResult struct {
	Items  []ListItem `json:"items"`
	Cursor string     `json:"cursor"`
}

type ListItem struct {
	ID               uuid.UUID                  `json:"id"`
	LicenseID        uuid.UUID                  `json:"license_id"`
	FromVersion      string                     `json:"from_version"`
	ToVersion        string                     `json:"to_version"`
	UpgradePriceUSD  decimal.Decimal            `json:"upgrade_price_usd"`
	PaymentReference *string                    `json:"payment_reference"`
	Status           enums.VersionUpgradeStatus `json:"status"`
	CreatedAt        time.Time                  `json:"created_at"`
	UpdatedAt        time.Time                  `json:"updated_at"`
}

type listQuery struct {
	licenseID uuid.UUID
	limit     int
	cursor    *pkgpagination.Cursor
}

func toListItem(m models.VersionUpgrade) ListItem {
	return ListItem{
		ID:               m.ID,
		LicenseID:        m.LicenseID,
		FromVersion:      m.FromVersion,
		ToVersion:        m.ToVersion,
		UpgradePriceUSD:  m.UpgradePriceUSD,
		PaymentReference: m.PaymentReference,
		Status:           m.Status,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
