package enums

import "fmt"

// ActivationStatus maps to the activation_status enum in Postgres.
type ActivationStatus string

const (
	ActivationStatusActive      ActivationStatus = "active"
	ActivationStatusDeactivated ActivationStatus = "deactivated"
	ActivationStatusReplaced    ActivationStatus = "replaced"
)

var validActivationStatuses = []ActivationStatus{
	ActivationStatusActive,
	ActivationStatusDeactivated,
	ActivationStatusReplaced,
}

// String implements fmt.Stringer.
func (a ActivationStatus) String() string {
	return string(a)
}

// IsValid reports whether the value matches the canonical activation_status enum.
func (a ActivationStatus) IsValid() bool {
	for _, candidate := range validActivationStatuses {
		if candidate == a {
			return true
		}
	}
	return false
}

// IsTerminal reports whether an activation can never leave this status.
// Every status other than active is terminal; re-activating the same
// hardware creates a fresh activation row instead.
func (a ActivationStatus) IsTerminal() bool {
	return a == ActivationStatusDeactivated || a == ActivationStatusReplaced
}

// ParseActivationStatus converts raw input into ActivationStatus.
func ParseActivationStatus(value string) (ActivationStatus, error) {
	for _, candidate := range validActivationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid activation status %q", value)
}
