package cron

import (
	"context"
	"fmt"

	"github.com/rephlo/rephlo-server/internal/activations"
	"github.com/rephlo/rephlo-server/pkg/logger"
)

type duplicateFingerprintRepo interface {
	ListCrossLicenseDuplicates(ctx context.Context) ([]activations.DuplicateFingerprint, error)
}

type FraudScanJobParams struct {
	Logger     *logger.Logger
	Repository duplicateFingerprintRepo
}

// NewFraudScanJob builds the job that surfaces fingerprints active on more
// than one license. It only reports; no activation is touched.
func NewFraudScanJob(params FraudScanJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("activations repository required")
	}
	return &fraudScanJob{
		logg: params.Logger,
		repo: params.Repository,
	}, nil
}

type fraudScanJob struct {
	logg *logger.Logger
	repo duplicateFingerprintRepo
}

func (j *fraudScanJob) Name() string { return "fingerprint-fraud-scan" }

func (j *fraudScanJob) Run(ctx context.Context) error {
	duplicates, err := j.repo.ListCrossLicenseDuplicates(ctx)
	if err != nil {
		return fmt.Errorf("fraud scan: %w", err)
	}

	for _, dup := range duplicates {
		dupCtx := j.logg.WithFields(ctx, map[string]any{
			"fingerprint":   dup.Fingerprint,
			"license_count": dup.LicenseCount,
		})
		j.logg.Warn(dupCtx, "fingerprint active on multiple licenses")
	}

	logCtx := j.logg.WithField(ctx, "duplicates_found", len(duplicates))
	j.logg.Info(logCtx, "fingerprint fraud scan complete")
	return nil
}
