package enums

import "fmt"

// VersionUpgradeStatus maps to the version_upgrade_status enum in Postgres.
type VersionUpgradeStatus string

const (
	VersionUpgradeStatusPending   VersionUpgradeStatus = "pending"
	VersionUpgradeStatusCompleted VersionUpgradeStatus = "completed"
	VersionUpgradeStatusFailed    VersionUpgradeStatus = "failed"
)

var validVersionUpgradeStatuses = []VersionUpgradeStatus{
	VersionUpgradeStatusPending,
	VersionUpgradeStatusCompleted,
	VersionUpgradeStatusFailed,
}

// String implements fmt.Stringer.
func (v VersionUpgradeStatus) String() string {
	return string(v)
}

// IsValid reports whether the value matches the canonical enum.
func (v VersionUpgradeStatus) IsValid() bool {
	for _, candidate := range validVersionUpgradeStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseVersionUpgradeStatus converts raw input into VersionUpgradeStatus.
func ParseVersionUpgradeStatus(value string) (VersionUpgradeStatus, error) {
	for _, candidate := range validVersionUpgradeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid version upgrade status %q", value)
}
