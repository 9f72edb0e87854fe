package versions

import (
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
	"github.com/shopspring/decimal"
)

// eligibleUntilPatch caps eligibility at the purchased major line. 99 exceeds
// any minor/patch the product ships, so every x.y.z within the major passes a
// numeric comparison.
const eligibleUntilSuffix = ".99.99"

func parseVersion(raw string) (semver.Version, error) {
	v, err := semver.Parse(strings.TrimSpace(raw))
	if err != nil {
		return semver.Version{}, fmt.Errorf("parsing version %q: %w", raw, err)
	}
	return v, nil
}

// IsEligible reports whether the requested version falls within the license's
// eligibility ceiling. Comparison is numeric per component; "1.10.0" is newer
// than "1.9.0".
func IsEligible(eligibleUntil, requested string) (bool, error) {
	ceiling, err := parseVersion(eligibleUntil)
	if err != nil {
		return false, err
	}
	want, err := parseVersion(requested)
	if err != nil {
		return false, err
	}
	return want.LE(ceiling), nil
}

// EligibleUntilFor derives the eligibility ceiling a purchase of the given
// version grants: every release within the purchased major.
func EligibleUntilFor(version string) (string, error) {
	v, err := parseVersion(version)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d%s", v.Major, eligibleUntilSuffix), nil
}

// UpgradePrice returns the cost of moving the eligibility ceiling to the
// target version's major line, priced per major step. Zero when the target
// major is already covered.
func UpgradePrice(eligibleUntil, target string, pricePerMajor decimal.Decimal) (decimal.Decimal, error) {
	ceiling, err := parseVersion(eligibleUntil)
	if err != nil {
		return decimal.Zero, err
	}
	want, err := parseVersion(target)
	if err != nil {
		return decimal.Zero, err
	}
	if want.Major <= ceiling.Major {
		return decimal.Zero, nil
	}
	steps := int64(want.Major - ceiling.Major)
	return pricePerMajor.Mul(decimal.NewFromInt(steps)), nil
}
