package enums

import "fmt"

// LicenseStatus maps to the license_status enum in Postgres.
type LicenseStatus string

const (
	LicenseStatusPending   LicenseStatus = "pending"
	LicenseStatusActive    LicenseStatus = "active"
	LicenseStatusSuspended LicenseStatus = "suspended"
	LicenseStatusRevoked   LicenseStatus = "revoked"
)

var validLicenseStatuses = []LicenseStatus{
	LicenseStatusPending,
	LicenseStatusActive,
	LicenseStatusSuspended,
	LicenseStatusRevoked,
}

// String implements fmt.Stringer.
func (l LicenseStatus) String() string {
	return string(l)
}

// IsValid reports whether the value matches the canonical license_status enum.
func (l LicenseStatus) IsValid() bool {
	for _, candidate := range validLicenseStatuses {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLicenseStatus converts raw input into LicenseStatus.
func ParseLicenseStatus(value string) (LicenseStatus, error) {
	for _, candidate := range validLicenseStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid license status %q", value)
}
