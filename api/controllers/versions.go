package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rephlo/rephlo-server/api/responses"
	"github.com/rephlo/rephlo-server/api/validators"
	"github.com/rephlo/rephlo-server/internal/versions"
	"github.com/rephlo/rephlo-server/pkg/db/models"
	"github.com/rephlo/rephlo-server/pkg/enums"
	pkgerrors "github.com/rephlo/rephlo-server/pkg/errors"
	"github.com/rephlo/rephlo-server/pkg/logger"
	pkgpagination "github.com/rephlo/rephlo-server/pkg/pagination"
)

// VersionEligibility answers whether a license key may run a given version.
func VersionEligibility(svc versions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		licenseKey := strings.TrimSpace(query.Get("license_key"))
		version := strings.TrimSpace(query.Get("version"))
		if licenseKey == "" || version == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "license_key and version are required"))
			return
		}

		result, err := svc.CheckEligibility(r.Context(), licenseKey, version)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

type upgradePurchaseRequest struct {
	LicenseID string `json:"license_id" validate:"required"`
	ToVersion string `json:"to_version" validate:"required"`
}

// VersionUpgradePurchase opens a pending upgrade for versions past the
// license's coverage ceiling.
func VersionUpgradePurchase(svc versions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload upgradePurchaseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		licenseID, err := uuid.Parse(strings.TrimSpace(payload.LicenseID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid license_id"))
			return
		}

		upgrade, err := svc.PurchaseUpgrade(r.Context(), licenseID, strings.TrimSpace(payload.ToVersion))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, upgradeResponseFromModel(upgrade))
	}
}

type upgradeCompleteRequest struct {
	PaymentReference string `json:"payment_reference" validate:"required"`
}

// VersionUpgradeComplete settles a pending upgrade after payment clears.
func VersionUpgradeComplete(svc versions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := upgradeIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload upgradeCompleteRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		upgrade, err := svc.CompleteUpgrade(r.Context(), id, strings.TrimSpace(payload.PaymentReference))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, upgradeResponseFromModel(upgrade))
	}
}

// VersionUpgradeFail abandons a pending upgrade after a failed payment.
func VersionUpgradeFail(svc versions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := upgradeIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		upgrade, err := svc.FailUpgrade(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, upgradeResponseFromModel(upgrade))
	}
}

// VersionUpgradeList returns a license's upgrade history, cursor-paginated.
func VersionUpgradeList(svc versions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		licenseID, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("license_id")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid license_id"))
			return
		}

		result, err := svc.ListUpgrades(r.Context(), versions.ListParams{
			LicenseID: licenseID,
			Params:    pkgpagination.FromRequest(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

func upgradeIDFromRequest(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "upgradeId"))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid upgrade id")
	}
	return id, nil
}

type upgradeResponse struct {
	ID               uuid.UUID                  `json:"id"`
	LicenseID        uuid.UUID                  `json:"license_id"`
	FromVersion      string                     `json:"from_version"`
	ToVersion        string                     `json:"to_version"`
	UpgradePriceUSD  decimal.Decimal            `json:"upgrade_price_usd"`
	PaymentReference *string                    `json:"payment_reference"`
	Status           enums.VersionUpgradeStatus `json:"status"`
	CreatedAt        time.Time                  `json:"created_at"`
	UpdatedAt        time.Time                  `json:"updated_at"`
}

func upgradeResponseFromModel(m *models.VersionUpgrade) upgradeResponse {
	return upgradeResponse{
		ID:               m.ID,
		LicenseID:        m.LicenseID,
		FromVersion:      m.FromVersion,
		ToVersion:        m.ToVersion,
		UpgradePriceUSD:  m.UpgradePriceUSD,
		PaymentReference: m.PaymentReference,
		Status:           m.Status,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
