package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/rephlo/rephlo-server/api/routes"
	"github.com/rephlo/rephlo-server/internal/activations"
	"github.com/rephlo/rephlo-server/internal/billing"
	"github.com/rephlo/rephlo-server/internal/credits"
	"github.com/rephlo/rephlo-server/internal/licenses"
	"github.com/rephlo/rephlo-server/internal/versions"
	"github.com/rephlo/rephlo-server/pkg/config"
	"github.com/rephlo/rephlo-server/pkg/db"
	"github.com/rephlo/rephlo-server/pkg/logger"
	"github.com/rephlo/rephlo-server/pkg/migrate"
	"github.com/rephlo/rephlo-server/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	licenseRepo := licenses.NewRepository(dbClient.DB())
	activationRepo := activations.NewRepository(dbClient.DB())
	upgradeRepo := versions.NewRepository(dbClient.DB())

	licenseService, err := licenses.NewService(licenses.ServiceParams{
		Repo:           licenseRepo,
		Activations:    activationRepo,
		Tx:             dbClient,
		MaxActivations: cfg.Licensing.MaxActivations,
		KeyGenAttempts: cfg.Licensing.KeyGenMaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create license service", err)
		os.Exit(1)
	}

	activationService, err := activations.NewService(activations.ServiceParams{
		Licenses: licenseRepo,
		Repo:     activationRepo,
		Tx:       dbClient,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create activation service", err)
		os.Exit(1)
	}

	pricePerMajor, err := cfg.Licensing.UpgradePricePerMajorUSD()
	if err != nil {
		logg.Error(context.Background(), "invalid upgrade price config", err)
		os.Exit(1)
	}
	versionService, err := versions.NewService(licenseRepo, upgradeRepo, dbClient, pricePerMajor)
	if err != nil {
		logg.Error(context.Background(), "failed to create version service", err)
		os.Exit(1)
	}

	invoicer, err := billing.NewLogInvoicer(logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create invoicer", err)
		os.Exit(1)
	}
	billingService, err := billing.NewService(billing.ServiceParams{
		Repo:       billing.NewRepository(dbClient.DB()),
		Invoicer:   invoicer,
		Logger:     logg,
		MemoPrefix: cfg.Billing.InvoiceMemoPrefix,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing service", err)
		os.Exit(1)
	}

	creditService, err := credits.NewService(credits.ServiceParams{
		Subscriptions: credits.NewSubscriptionsRepository(dbClient.DB()),
		Allocations:   credits.NewAllocationsRepository(dbClient.DB()),
		Balances:      credits.NewBalancesRepository(dbClient.DB()),
		Tx:            dbClient,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create credit service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			licenseService,
			activationService,
			versionService,
			billingService,
			creditService,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
