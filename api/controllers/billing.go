package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rephlo/rephlo-server/api/responses"
	"github.com/rephlo/rephlo-server/api/validators"
	"github.com/rephlo/rephlo-server/internal/billing"
	"github.com/rephlo/rephlo-server/pkg/db/models"
	"github.com/rephlo/rephlo-server/pkg/enums"
	pkgerrors "github.com/rephlo/rephlo-server/pkg/errors"
	"github.com/rephlo/rephlo-server/pkg/logger"
)

type prorationPreviewRequest struct {
	DaysRemaining int    `json:"days_remaining"`
	DaysInCycle   int    `json:"days_in_cycle" validate:"required"`
	OldTierPrice  string `json:"old_tier_price" validate:"required"`
	NewTierPrice  string `json:"new_tier_price" validate:"required"`
}

// BillingProrationPreview quotes a mid-cycle tier switch without recording it.
func BillingProrationPreview(svc billing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload prorationPreviewRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		oldPrice, newPrice, err := parseTierPrices(payload.OldTierPrice, payload.NewTierPrice)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CalculateProration(payload.DaysRemaining, payload.DaysInCycle, oldPrice, newPrice)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

type tierChangeRequest struct {
	SubscriptionID string `json:"subscription_id" validate:"required"`
	FromTier       string `json:"from_tier" validate:"required"`
	ToTier         string `json:"to_tier" validate:"required"`
	DaysRemaining  int    `json:"days_remaining"`
	DaysInCycle    int    `json:"days_in_cycle" validate:"required"`
	OldTierPrice   string `json:"old_tier_price" validate:"required"`
	NewTierPrice   string `json:"new_tier_price" validate:"required"`
}

// BillingTierChange records a tier switch and settles the prorated charge.
func BillingTierChange(svc billing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload tierChangeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		oldPrice, newPrice, err := parseTierPrices(payload.OldTierPrice, payload.NewTierPrice)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		event, err := svc.ApplyTierChange(r.Context(), billing.TierChangeInput{
			SubscriptionID: strings.TrimSpace(payload.SubscriptionID),
			FromTier:       strings.TrimSpace(payload.FromTier),
			ToTier:         strings.TrimSpace(payload.ToTier),
			DaysRemaining:  payload.DaysRemaining,
			DaysInCycle:    payload.DaysInCycle,
			OldTierPrice:   oldPrice,
			NewTierPrice:   newPrice,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, prorationEventResponseFromModel(event))
	}
}

func parseTierPrices(oldRaw, newRaw string) (decimal.Decimal, decimal.Decimal, error) {
	oldPrice, err := decimal.NewFromString(strings.TrimSpace(oldRaw))
	if err != nil {
		return decimal.Zero, decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid old_tier_price")
	}
	newPrice, err := decimal.NewFromString(strings.TrimSpace(newRaw))
	if err != nil {
		return decimal.Zero, decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid new_tier_price")
	}
	return oldPrice, newPrice, nil
}

type prorationEventResponse struct {
	ID                     uuid.UUID             `json:"id"`
	SubscriptionID         string                `json:"subscription_id"`
	FromTier               string                `json:"from_tier"`
	ToTier                 string                `json:"to_tier"`
	DaysRemaining          int                   `json:"days_remaining"`
	DaysInCycle            int                   `json:"days_in_cycle"`
	UnusedCreditValueUSD   decimal.Decimal       `json:"unused_credit_value_usd"`
	NewTierProratedCostUSD decimal.Decimal       `json:"new_tier_prorated_cost_usd"`
	NetChargeUSD           decimal.Decimal       `json:"net_charge_usd"`
	Status                 enums.ProrationStatus `json:"status"`
	InvoiceReference       *string               `json:"invoice_reference"`
	CreatedAt              time.Time             `json:"created_at"`
}

func prorationEventResponseFromModel(m *models.ProrationEvent) prorationEventResponse {
	return prorationEventResponse{
		ID:                     m.ID,
		SubscriptionID:         m.SubscriptionID,
		FromTier:               m.FromTier,
		ToTier:                 m.ToTier,
		DaysRemaining:          m.DaysRemaining,
		DaysInCycle:            m.DaysInCycle,
		UnusedCreditValueUSD:   m.UnusedCreditValueUSD,
		NewTierProratedCostUSD: m.NewTierProratedCostUSD,
		NetChargeUSD:           m.NetChargeUSD,
		Status:                 m.Status,
		InvoiceReference:       m.InvoiceReference,
		CreatedAt:              m.CreatedAt,
	}
}
