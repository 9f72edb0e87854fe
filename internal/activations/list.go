package activations

import (
	"time"

	"github.com/google/uuid"

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
	ID                 uuid.UUID              `json:"id"`
	LicenseID          uuid.UUID              `json:"license_id"`
	MachineFingerprint string                 `json:"machine_fingerprint"`
	DeviceName         *string                `json:"device_name"`
	OSType             *string                `json:"os_type"`
	OSVersion          *string                `json:"os_version"`
	Status             enums.ActivationStatus `json:"status"`
	ActivatedAt        time.Time              `json:"activated_at"`
	LastSeenAt         time.Time              `json:"last_seen_at"`
	DeactivatedAt      *time.Time             `json:"deactivated_at"`
	CreatedAt          time.Time              `json:"created_at"`
}

type listQuery struct {
	licenseID uuid.UUID
	limit     int
	cursor    *pkgpagination.Cursor
}

func toListItem(m models.Activation) ListItem {
	return ListItem{
		ID:                 m.ID,
		LicenseID:          m.LicenseID,
		MachineFingerprint: m.MachineFingerprint,
		DeviceName:         m.DeviceName,
		OSType:             m.OSType,
		OSVersion:          m.OSVersion,
		Status:             m.Status,
		ActivatedAt:        m.ActivatedAt,
		LastSeenAt:         m.LastSeenAt,
		DeactivatedAt:      m.DeactivatedAt,
		CreatedAt:          m.CreatedAt,
	}
}
