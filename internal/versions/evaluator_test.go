package versions

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestIsEligibleWithinMajor(t *testing.T) {
	cases := []struct {
		eligibleUntil string
		requested     string
		want          bool
	}{
		{"1.99.99", "1.0.0", true},
		{"1.99.99", "1.9.0", true},
		{"1.99.99", "1.10.0", true},
		{"1.99.99", "1.99.99", true},
		{"1.99.99", "2.0.0", false},
		{"2.99.99", "2.10.5", true},
		{"2.99.99", "3.0.0", false},
		{"1.99.99", "1.100.0", false},
	}
	for _, tc := range cases {
		got, err := IsEligible(tc.eligibleUntil, tc.requested)
		if err != nil {
			t.Fatalf("IsEligible(%s, %s) returned error: %v", tc.eligibleUntil, tc.requested, err)
		}
		if got != tc.want {
			t.Fatalf("IsEligible(%s, %s) = %v, want %v", tc.eligibleUntil, tc.requested, got, tc.want)
		}
	}
}

func TestIsEligibleComparesNumerically(t *testing.T) {
	// "1.10.0" > "1.9.0" numerically even though it sorts lower as a string.
	ok, err := IsEligible("1.9.99", "1.10.0")
	if err != nil {
		t.Fatalf("IsEligible returned error: %v", err)
	}
	if ok {
		t.Fatal("expected 1.10.0 to exceed a 1.9.99 ceiling")
	}
}

func TestIsEligibleRejectsMalformedVersions(t *testing.T) {
	if _, err := IsEligible("not-a-version", "1.0.0"); err == nil {
		t.Fatal("expected error for malformed ceiling")
	}
	if _, err := IsEligible("1.99.99", "1.0"); err == nil {
		t.Fatal("expected error for malformed request")
	}
}

func TestEligibleUntilFor(t *testing.T) {
	cases := []struct {
		version string
		want    string
	}{
		{"1.0.0", "1.99.99"},
		{"2.3.1", "2.99.99"},
		{"10.0.0", "10.99.99"},
	}
	for _, tc := range cases {
		got, err := EligibleUntilFor(tc.version)
		if err != nil {
			t.Fatalf("EligibleUntilFor(%s) returned error: %v", tc.version, err)
		}
		if got != tc.want {
			t.Fatalf("EligibleUntilFor(%s) = %s, want %s", tc.version, got, tc.want)
		}
	}
}

func TestUpgradePricePerMajorStep(t *testing.T) {
	perMajor := decimal.NewFromInt(99)
	cases := []struct {
		eligibleUntil string
		target        string
		want          string
	}{
		{"1.99.99", "2.0.0", "99"},
		{"1.99.99", "3.0.0", "198"},
		{"1.99.99", "4.1.0", "297"},
		{"2.99.99", "2.5.0", "0"},
		{"3.99.99", "1.0.0", "0"},
	}
	for _, tc := range cases {
		got, err := UpgradePrice(tc.eligibleUntil, tc.target, perMajor)
		if err != nil {
			t.Fatalf("UpgradePrice(%s, %s) returned error: %v", tc.eligibleUntil, tc.target, err)
		}
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("UpgradePrice(%s, %s) = %s, want %s", tc.eligibleUntil, tc.target, got, tc.want)
		}
	}
}
