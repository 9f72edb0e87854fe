package billing

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/rephlo/rephlo-server/pkg/errors"
)

// ProrationResult holds the three legs of a mid-cycle tier change, each
// rounded to cents.
type ProrationResult struct {
	UnusedCreditValue   decimal.Decimal `json:"unused_credit_value"`
	NewTierProratedCost decimal.Decimal `json:"new_tier_prorated_cost"`
	NetCharge           decimal.Decimal `json:"net_charge"`
}

// CalculateProration computes the charge for switching tiers mid-cycle. The
// subscriber is credited the unused fraction of the old tier and billed the
// same fraction of the new one. Each leg rounds half-up to 2 places before
// the net is taken, so the three published amounts always reconcile.
func CalculateProration(daysRemaining, daysInCycle int, oldTierPrice, newTierPrice decimal.Decimal) (ProrationResult, error) {
	if daysInCycle <= 0 {
		return ProrationResult{}, pkgerrors.New(pkgerrors.CodeValidation, "days_in_cycle must be positive")
	}
	if daysRemaining < 0 {
		return ProrationResult{}, pkgerrors.New(pkgerrors.CodeValidation, "days_remaining must not be negative")
	}
	if daysRemaining > daysInCycle {
		return ProrationResult{}, pkgerrors.New(pkgerrors.CodeValidation, "days_remaining cannot exceed days_in_cycle")
	}
	if oldTierPrice.IsNegative() || newTierPrice.IsNegative() {
		return ProrationResult{}, pkgerrors.New(pkgerrors.CodeValidation, "tier prices must not be negative")
	}

	ratio := decimal.NewFromInt(int64(daysRemaining)).Div(decimal.NewFromInt(int64(daysInCycle)))
	unused := oldTierPrice.Mul(ratio).Round(2)
	prorated := newTierPrice.Mul(ratio).Round(2)
	net := prorated.Sub(unused).Round(2)

	return ProrationResult{
		UnusedCreditValue:   unused,
		NewTierProratedCost: prorated,
		NetCharge:           net,
	}, nil
}
