package licenses

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rephlo/rephlo-server/pkg/db/models"
	"github.com/rephlo/rephlo-server/pkg/enums"
	pkgpagination "github.com/rephlo/rephlo-server/pkg/pagination"
)

type ListParams struct {
	OwnerUserID uuid.UUID
	pkgpagination.Params
}

type ListResult struct {
	Items  []ListItem `json:"items"`
	Cursor string     `json:"cursor"`
}

type ListItem struct {
	ID                   uuid.UUID           `json:"id"`
	OwnerUserID          uuid.UUID           `json:"owner_user_id"`
	LicenseKey           string              `json:"license_key"`
	PurchasePriceUSD     decimal.Decimal     `json:"purchase_price_usd"`
	PurchasedVersion     string              `json:"purchased_version"`
	EligibleUntilVersion string              `json:"eligible_until_version"`
	Status               enums.LicenseStatus `json:"status"`
	MaxActivations       int                 `json:"max_activations"`
	CurrentActivations   int                 `json:"current_activations"`
	PurchasedAt          time.Time           `json:"purchased_at"`
	ActivatedAt          *time.Time          `json:"activated_at"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

type listQuery struct {
	ownerUserID uuid.UUID
	limit       int
	cursor      *pkgpagination.Cursor
}

func toListItem(m models.License) ListItem {
	return ListItem{
		ID:                   m.ID,
		OwnerUserID:          m.OwnerUserID,
		LicenseKey:           m.LicenseKey,
		PurchasePriceUSD:     m.PurchasePriceUSD,
		PurchasedVersion:     m.PurchasedVersion,
		EligibleUntilVersion: m.EligibleUntilVersion,
		Status:               m.Status,
		MaxActivations:       m.MaxActivations,
		CurrentActivations:   m.CurrentActivations,
		PurchasedAt:          m.PurchasedAt,
		ActivatedAt:          m.ActivatedAt,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}
