package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rephlo/rephlo-server/api/responses"
	"github.com/rephlo/rephlo-server/api/validators"
	"github.com/rephlo/rephlo-server/internal/activations"
	"github.com/rephlo/rephlo-server/pkg/db/models"
	"github.com/rephlo/rephlo-server/pkg/enums"
	pkgerrors "github.com/rephlo/rephlo-server/pkg/errors"
	"github.com/rephlo/rephlo-server/pkg/logger"
	pkgpagination "github.com/rephlo/rephlo-server/pkg/pagination"
)

type deviceRequest struct {
	CPUID      string `json:"cpu_id" validate:"required"`
	MACAddress string `json:"mac_address" validate:"required"`
	DiskSerial string `json:"disk_serial" validate:"required"`
	OSVersion  string `json:"os_version" validate:"required"`
	DeviceName string `json:"device_name"`
	OSType     string `json:"os_type"`
	CPUInfo    string `json:"cpu_info"`
}

func (d deviceRequest) toDeviceInfo() activations.DeviceInfo {
	return activations.DeviceInfo{
		CPUID:      strings.TrimSpace(d.CPUID),
		MACAddress: strings.TrimSpace(d.MACAddress),
		DiskSerial: strings.TrimSpace(d.DiskSerial),
		OSVersion:  strings.TrimSpace(d.OSVersion),
		DeviceName: strings.TrimSpace(d.DeviceName),
		OSType:     strings.TrimSpace(d.OSType),
		CPUInfo:    strings.TrimSpace(d.CPUInfo),
	}
}

type activateRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	deviceRequest
}

// ActivationActivate claims a device slot on a license. Re-activating the
// same device refreshes its last-seen time instead of consuming a slot.
func ActivationActivate(svc activations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload activateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ActivateDevice(r.Context(), strings.TrimSpace(payload.LicenseKey), payload.toDeviceInfo())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusOK
		if result.IsNew {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, activateResponseFromResult(result))
	}
}

// ActivationDeactivate frees the slot held by an activation.
func ActivationDeactivate(svc activations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := activationIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		activation, err := svc.DeactivateDevice(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, activationResponseFromModel(activation))
	}
}

// ActivationReplace swaps the device behind an activation for a new one.
func ActivationReplace(svc activations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := activationIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload deviceRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ReplaceDevice(r.Context(), id, payload.toDeviceInfo())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, activateResponseFromResult(result))
	}
}

// ActivationValidate is the client heartbeat: it reports whether the given
// device still holds an active slot on the license.
func ActivationValidate(svc activations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload activateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		valid, err := svc.ValidateLicense(r.Context(), strings.TrimSpace(payload.LicenseKey), payload.toDeviceInfo())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]bool{"valid": valid})
	}
}

// ActivationList returns a license's activations, cursor-paginated.
func ActivationList(svc activations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		licenseID, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("license_id")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid license_id"))
			return
		}

		result, err := svc.ListActivations(r.Context(), activations.ListParams{
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

func activationIDFromRequest(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "activationId"))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid activation id")
	}
	return id, nil
}

type activationResponse struct {
	ID                 uuid.UUID              `json:"id"`
	LicenseID          uuid.UUID              `json:"license_id"`
	MachineFingerprint string                 `json:"machine_fingerprint"`
	DeviceName         *string                `json:"device_name"`
	OSType             *string                `json:"os_type"`
	OSVersion          *string                `json:"os_version"`
	Status             enums.ActivationStatus `json:"status"`
	ActivatedAt        time.Time              `json:"activated_at"`
	LastSeenAt         time.Time              `json:"last_seen_at"`
	DeactivatedAt      *time.Time             `json:"deactivated_at"`
}

type activateResponse struct {
	Activation activationResponse `json:"activation"`
	IsNew      bool               `json:"is_new"`
}

func activationResponseFromModel(m *models.Activation) activationResponse {
	return activationResponse{
		ID:                 m.ID,
		LicenseID:          m.LicenseID,
		MachineFingerprint: m.MachineFingerprint,
		DeviceName:         m.DeviceName,
		OSType:             m.OSType,
		OSVersion:          m.OSVersion,
		Status:             m.Status,
		ActivatedAt:        m.ActivatedAt,
		LastSeenAt:         m.LastSeenAt,
		DeactivatedAt:      m.DeactivatedAt,
	}
}

func activateResponseFromResult(result *activations.ActivateResult) activateResponse {
	return activateResponse{
		Activation: activationResponseFromModel(result.Activation),
		IsNew:      result.IsNew,
	}
}
