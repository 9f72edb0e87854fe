package enums

import "fmt"

// SubscriptionStatus maps to the subscription_status enum in Postgres.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

var validSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusCanceled,
}

// String implements fmt.Stringer.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches the canonical subscription_status enum.
func (s SubscriptionStatus) IsValid() bool {
	for _, candidate := range validSubscriptionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSubscriptionStatus converts raw input into SubscriptionStatus.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	for _, candidate := range validSubscriptionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription status %q", value)
}

// SubscriptionMode distinguishes cloud-metered subscriptions from BYOK ones.
// BYOK subscribers bring their own provider credentials and never draw from
// the shared credit pool.
type SubscriptionMode string

const (
	SubscriptionModeCloud SubscriptionMode = "cloud"
	SubscriptionModeBYOK  SubscriptionMode = "byok"
)

var validSubscriptionModes = []SubscriptionMode{
	SubscriptionModeCloud,
	SubscriptionModeBYOK,
}

// String implements fmt.Stringer.
func (m SubscriptionMode) String() string {
	return string(m)
}

// IsValid reports whether the value matches the canonical subscription_mode enum.
func (m SubscriptionMode) IsValid() bool {
	for _, candidate := range validSubscriptionModes {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseSubscriptionMode converts raw input into SubscriptionMode.
func ParseSubscriptionMode(value string) (SubscriptionMode, error) {
	for _, candidate := range validSubscriptionModes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription mode %q", value)
}
