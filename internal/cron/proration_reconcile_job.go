package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/rephlo/rephlo-server/pkg/logger"
)

const (
	defaultReconcileMinPending = time.Hour
	defaultReconcileBatchSize  = 100
)

type prorationReconciler interface {
	ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type ProrationReconcileJobParams struct {
	Logger     *logger.Logger
	Billing    prorationReconciler
	MinPending time.Duration
	BatchSize  int
}

// NewProrationReconcileJob builds the job that re-drives proration events the
// invoicer never confirmed.
func NewProrationReconcileJob(params ProrationReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Billing == nil {
		return nil, fmt.Errorf("billing service required")
	}
	minPending := params.MinPending
	if minPending <= 0 {
		minPending = defaultReconcileMinPending
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultReconcileBatchSize
	}
	return &prorationReconcileJob{
		logg:       params.Logger,
		billing:    params.Billing,
		minPending: minPending,
		batchSize:  batchSize,
	}, nil
}

type prorationReconcileJob struct {
	logg       *logger.Logger
	billing    prorationReconciler
	minPending time.Duration
	batchSize  int
}

func (j *prorationReconcileJob) Name() string { return "proration-reconcile" }

func (j *prorationReconcileJob) Run(ctx context.Context) error {
	applied, err := j.billing.ReconcilePending(ctx, j.minPending, j.batchSize)
	if err != nil {
		return fmt.Errorf("proration reconcile: %w", err)
	}
	logCtx := j.logg.WithField(ctx, "events_applied", applied)
	j.logg.Info(logCtx, "proration reconcile complete")
	return nil
}
