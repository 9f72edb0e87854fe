package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rephlo/rephlo-server/pkg/logger"
)

// LogInvoicer records charges to the application log and issues synthetic
// invoice references. It stands in for a payment provider in environments
// that do not have one wired.
type LogInvoicer struct {
	logg *logger.Logger
}

func NewLogInvoicer(logg *logger.Logger) (*LogInvoicer, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &LogInvoicer{logg: logg}, nil
}

func (i *LogInvoicer) Charge(ctx context.Context, subscriptionID string, amount decimal.Decimal, memo string) (string, error) {
	ref := "inv_" + uuid.NewString()
	ctx = i.logg.WithFields(ctx, map[string]any{
		"subscription_id": subscriptionID,
		"amount_usd":      amount.String(),
		"memo":            memo,
		"invoice_ref":     ref,
	})
	i.logg.Info(ctx, "invoice charge recorded")
	return ref, nil
}
