package controllers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rephlo/rephlo-server/api/responses"
	"github.com/rephlo/rephlo-server/api/validators"
	"github.com/rephlo/rephlo-server/internal/licenses"
	"github.com/rephlo/rephlo-server/pkg/db/models"
	"github.com/rephlo/rephlo-server/pkg/enums"
	pkgerrors "github.com/rephlo/rephlo-server/pkg/errors"
	"github.com/rephlo/rephlo-server/pkg/logger"
	pkgpagination "github.com/rephlo/rephlo-server/pkg/pagination"
)

type licenseCreateRequest struct {
	OwnerUserID      string `json:"owner_user_id" validate:"required"`
	PriceUSD         string `json:"price_usd" validate:"required"`
	PurchasedVersion string `json:"purchased_version" validate:"required"`
}

func (r licenseCreateRequest) toInput() (licenses.CreateLicenseInput, error) {
	ownerID, err := uuid.Parse(strings.TrimSpace(r.OwnerUserID))
	if err != nil {
		return licenses.CreateLicenseInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid owner_user_id")
	}
	price, err := decimal.NewFromString(strings.TrimSpace(r.PriceUSD))
	if err != nil {
		return licenses.CreateLicenseInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid price_usd")
	}
	return licenses.CreateLicenseInput{
		OwnerUserID:      ownerID,
		PriceUSD:         price,
		PurchasedVersion: strings.TrimSpace(r.PurchasedVersion),
	}, nil
}

// LicenseCreate mints a new license for a completed purchase.
func LicenseCreate(svc licenses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload licenseCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		created, err := svc.CreateLicense(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, licenseResponseFromModel(created))
	}
}

// LicenseList returns an owner's licenses, cursor-paginated.
func LicenseList(svc licenses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("owner_user_id")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid owner_user_id"))
			return
		}

		result, err := svc.ListLicenses(r.Context(), licenses.ListParams{
			OwnerUserID: ownerID,
			Params:      pkgpagination.FromRequest(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// LicenseDetail returns one license by id.
func LicenseDetail(svc licenses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := licenseIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		license, err := svc.GetLicense(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, licenseResponseFromModel(license))
	}
}

// LicenseSuspend pauses an active license.
func LicenseSuspend(svc licenses.Service, logg *logger.Logger) http.HandlerFunc {
	return licenseTransition(logg, func(r *http.Request, id uuid.UUID) (*models.License, error) {
		return svc.SuspendLicense(r.Context(), id)
	})
}

// LicenseRevoke permanently disables a license and its devices.
func LicenseRevoke(svc licenses.Service, logg *logger.Logger) http.HandlerFunc {
	return licenseTransition(logg, func(r *http.Request, id uuid.UUID) (*models.License, error) {
		return svc.RevokeLicense(r.Context(), id)
	})
}

// LicenseReactivate restores a suspended license.
func LicenseReactivate(svc licenses.Service, logg *logger.Logger) http.HandlerFunc {
	return licenseTransition(logg, func(r *http.Request, id uuid.UUID) (*models.License, error) {
		return svc.ReactivateLicense(r.Context(), id)
	})
}

func licenseTransition(logg *logger.Logger, apply func(*http.Request, uuid.UUID) (*models.License, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := licenseIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		// The body is optional; a reason is recorded in the audit log only.
		var payload struct {
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if reason := strings.TrimSpace(payload.Reason); reason != "" && logg != nil {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"license_id": id.String(),
				"reason":     reason,
			})
			logg.Info(ctx, "license transition requested")
		}

		license, err := apply(r, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, licenseResponseFromModel(license))
	}
}

func licenseIDFromRequest(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "licenseId"))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid license id")
	}
	return id, nil
}

type licenseResponse struct {
	ID                   uuid.UUID           `json:"id"`
	OwnerUserID          uuid.UUID           `json:"owner_user_id"`
	LicenseKey           string              `json:"license_key"`
	PurchasePriceUSD     decimal.Decimal     `json:"purchase_price_usd"`
	PurchasedVersion     string              `json:"purchased_version"`
	EligibleUntilVersion string              `json:"eligible_until_version"`
	Status               enums.LicenseStatus `json:"status"`
	MaxActivations       int                 `json:"max_activations"`
	CurrentActivations   int                 `json:"current_activations"`
	PurchasedAt          time.Time           `json:"purchased_at"`
	ActivatedAt          *time.Time          `json:"activated_at"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

func licenseResponseFromModel(m *models.License) licenseResponse {
	return licenseResponse{
		ID:                   m.ID,
		OwnerUserID:          m.OwnerUserID,
		LicenseKey:           m.LicenseKey,
		PurchasePriceUSD:     m.PurchasePriceUSD,
		PurchasedVersion:     m.PurchasedVersion,
		EligibleUntilVersion: m.EligibleUntilVersion,
		Status:               m.Status,
		MaxActivations:       m.MaxActivations,
		CurrentActivations:   m.CurrentActivations,
		PurchasedAt:          m.PurchasedAt,
		ActivatedAt:          m.ActivatedAt,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}
