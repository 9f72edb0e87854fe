package migrate

import (
	"context"
	"fmt"

	"github.com/rephlo/rephlo-server/pkg/config"
	"github.com/rephlo/rephlo-server/pkg/db"
	"github.com/rephlo/rephlo-server/pkg/db/models"
	"github.com/rephlo/rephlo-server/pkg/logger"
)

// MaybeRunDev auto-migrates the schema when the feature flag is set. Refuses
// to run in production, where schema changes go through reviewed migrations.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	if cfg.App.IsProd() {
		return fmt.Errorf("auto-migrate is not allowed in production")
	}

	logg.Info(ctx, "running dev auto-migration")
	if err := client.DB().WithContext(ctx).AutoMigrate(
		&models.License{},
		&models.Activation{},
		&models.VersionUpgrade{},
		&models.ProrationEvent{},
		&models.Subscription{},
		&models.CreditAllocation{},
		&models.CreditBalance{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}
