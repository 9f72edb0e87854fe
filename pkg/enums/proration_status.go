package enums

import "fmt"

// ProrationStatus maps to the proration_status enum in Postgres.
type ProrationStatus string

const (
	ProrationStatusPending ProrationStatus = "pending"
	ProrationStatusApplied ProrationStatus = "applied"
)

var validProrationStatuses = []ProrationStatus{
	ProrationStatusPending,
	ProrationStatusApplied,
}

// String implements fmt.Stringer.
func (p ProrationStatus) String() string {
	return string(p)
}

// IsValid reports whether the value matches the canonical proration_status enum.
func (p ProrationStatus) IsValid() bool {
	for _, candidate := range validProrationStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProrationStatus converts raw input into ProrationStatus.
func ParseProrationStatus(value string) (ProrationStatus, error) {
	for _, candidate := range validProrationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid proration status %q", value)
}
