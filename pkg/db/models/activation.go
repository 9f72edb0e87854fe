package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rephlo/rephlo-server/pkg/enums"
)

// Activation binds a license to one machine, identified by its fingerprint.
// At most one row per (license, fingerprint) pair may be active at a time.
type Activation struct {
	ID                 uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	LicenseID          uuid.UUID              `gorm:"column:license_id;type:uuid;not null;index"`
	OwnerUserID        uuid.UUID              `gorm:"column:owner_user_id;type:uuid;not null"`
	MachineFingerprint string                 `gorm:"column:machine_fingerprint;not null;index"`
	DeviceName         *string                `gorm:"column:device_name"`
	OSType             *string                `gorm:"column:os_type"`
	OSVersion          *string                `gorm:"column:os_version"`
	CPUInfo            *string                `gorm:"column:cpu_info"`
	Status             enums.ActivationStatus `gorm:"column:status;type:activation_status;not null;default:'active'"`
	ActivatedAt        time.Time              `gorm:"column:activated_at;not null"`
	LastSeenAt         time.Time              `gorm:"column:last_seen_at;not null"`
	DeactivatedAt      *time.Time             `gorm:"column:deactivated_at"`
	CreatedAt          time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
