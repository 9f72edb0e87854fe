package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rephlo/rephlo-server/pkg/db/models"
	"github.com/rephlo/rephlo-server/pkg/enums"
	pkgerrors "github.com/rephlo/rephlo-server/pkg/errors"
	"github.com/rephlo/rephlo-server/pkg/logger"
)

// Invoicer is the payment-provider port. Charge returns the provider's
// confirmation reference for the collected (or credited) amount.
type Invoicer interface {
	Charge(ctx context.Context, subscriptionID string, amount decimal.Decimal, memo string) (string, error)
}

type eventsRepository interface {
	Create(ctx context.Context, event *models.ProrationEvent) (*models.ProrationEvent, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.ProrationEvent, error)
	MarkApplied(ctx context.Context, id uuid.UUID, invoiceRef string) error
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ProrationEvent, error)
}

// TierChangeInput describes a mid-cycle subscription tier switch.
type TierChangeInput struct {
	SubscriptionID string
	FromTier       string
	ToTier         string
	DaysRemaining  int
	DaysInCycle    int
	OldTierPrice   decimal.Decimal
	NewTierPrice   decimal.Decimal
}

// Service records tier changes as proration events and settles them through
// the invoicer.
type Service interface {
	CalculateProration(daysRemaining, daysInCycle int, oldTierPrice, newTierPrice decimal.Decimal) (ProrationResult, error)
	ApplyTierChange(ctx context.Context, input TierChangeInput) (*models.ProrationEvent, error)
	ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type service struct {
	repo       eventsRepository
	invoicer   Invoicer
	logg       *logger.Logger
	memoPrefix string
	now        func() time.Time
}

// ServiceParams collects the collaborators NewService wires together.
type ServiceParams struct {
	Repo       eventsRepository
	Invoicer   Invoicer
	Logger     *logger.Logger
	MemoPrefix string
	Now        func() time.Time
}

// NewService builds a billing service.
func NewService(p ServiceParams) (Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("proration event repository required")
	}
	if p.Invoicer == nil {
		return nil, fmt.Errorf("invoicer required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &service{
		repo:       p.Repo,
		invoicer:   p.Invoicer,
		logg:       p.Logger,
		memoPrefix: p.MemoPrefix,
		now:        p.Now,
	}, nil
}

func (s *service) CalculateProration(daysRemaining, daysInCycle int, oldTierPrice, newTierPrice decimal.Decimal) (ProrationResult, error) {
	return CalculateProration(daysRemaining, daysInCycle, oldTierPrice, newTierPrice)
}

// ApplyTierChange records the proration event first, then settles it. An
// invoicer outage leaves the event pending for the reconcile job instead of
// losing the audit record.
func (s *service) ApplyTierChange(ctx context.Context, input TierChangeInput) (*models.ProrationEvent, error) {
	if strings.TrimSpace(input.SubscriptionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription_id is required")
	}
	if strings.TrimSpace(input.FromTier) == "" || strings.TrimSpace(input.ToTier) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "from_tier and to_tier are required")
	}

	result, err := CalculateProration(input.DaysRemaining, input.DaysInCycle, input.OldTierPrice, input.NewTierPrice)
	if err != nil {
		return nil, err
	}

	event := &models.ProrationEvent{
		ID:                     uuid.New(),
		SubscriptionID:         strings.TrimSpace(input.SubscriptionID),
		FromTier:               strings.TrimSpace(input.FromTier),
		ToTier:                 strings.TrimSpace(input.ToTier),
		DaysRemaining:          input.DaysRemaining,
		DaysInCycle:            input.DaysInCycle,
		UnusedCreditValueUSD:   result.UnusedCreditValue,
		NewTierProratedCostUSD: result.NewTierProratedCost,
		NetChargeUSD:           result.NetCharge,
		Status:                 enums.ProrationStatusPending,
	}
	created, err := s.repo.Create(ctx, event)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create proration event")
	}

	if err := s.settle(ctx, created); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) settle(ctx context.Context, event *models.ProrationEvent) error {
	memo := fmt.Sprintf("%s %s -> %s", s.memoPrefix, event.FromTier, event.ToTier)
	ref, err := s.invoicer.Charge(ctx, event.SubscriptionID, event.NetChargeUSD, strings.TrimSpace(memo))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "invoice proration")
	}
	if err := s.repo.MarkApplied(ctx, event.ID, ref); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark proration applied")
	}
	event.Status = enums.ProrationStatusApplied
	event.InvoiceReference = &ref
	return nil
}

// ReconcilePending retries events the invoicer never confirmed. Per-event
// failures log and skip so one broken event cannot wedge the sweep.
func (s *service) ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	events, err := s.repo.ListPendingBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending proration events")
	}

	applied := 0
	for i := range events {
		event := events[i]
		if err := s.settle(ctx, &event); err != nil {
			evCtx := s.logg.WithField(ctx, "proration_event_id", event.ID.String())
			s.logg.Error(evCtx, "proration reconcile failed for event", err)
			continue
		}
		applied++
	}
	return applied, nil
}
