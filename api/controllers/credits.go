package controllers

import (
	"net/http"
	"strings"

	"github.com/rephlo/rephlo-server/api/responses"
	"github.com/rephlo/rephlo-server/api/validators"
	"github.com/rephlo/rephlo-server/internal/credits"
	"github.com/rephlo/rephlo-server/pkg/logger"
)

type creditTierUpgradeRequest struct {
	TierName   string `json:"tier_name" validate:"required"`
	OldCredits int64  `json:"old_credits" validate:"min=0"`
	NewCredits int64  `json:"new_credits" validate:"required,min=0"`
	Reason     string `json:"reason" validate:"required"`
}

// CreditTierUpgrade grants the credit delta of a tier change to every active
// cloud subscriber on that tier. Partial failures come back in the summary
// rather than failing the batch.
func CreditTierUpgrade(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload creditTierUpgradeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ProcessTierUpgrade(
			r.Context(),
			strings.TrimSpace(payload.TierName),
			payload.OldCredits,
			payload.NewCredits,
			strings.TrimSpace(payload.Reason),
		)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}
