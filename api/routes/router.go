package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rephlo/rephlo-server/api/controllers"
	"github.com/rephlo/rephlo-server/api/middleware"
	"github.com/rephlo/rephlo-server/internal/activations"
	"github.com/rephlo/rephlo-server/internal/billing"
	"github.com/rephlo/rephlo-server/internal/credits"
	"github.com/rephlo/rephlo-server/internal/licenses"
	"github.com/rephlo/rephlo-server/internal/versions"
	"github.com/rephlo/rephlo-server/pkg/config"
	"github.com/rephlo/rephlo-server/pkg/db"
	"github.com/rephlo/rephlo-server/pkg/logger"
	"github.com/rephlo/rephlo-server/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	licenseService licenses.Service,
	activationService activations.Service,
	versionService versions.Service,
	billingService billing.Service,
	creditService credits.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/licenses", func(r chi.Router) {
			r.Get("/", controllers.LicenseList(licenseService, logg))
			r.Post("/", controllers.LicenseCreate(licenseService, logg))
			r.Get("/{licenseId}", controllers.LicenseDetail(licenseService, logg))
			r.Post("/{licenseId}/suspend", controllers.LicenseSuspend(licenseService, logg))
			r.Post("/{licenseId}/revoke", controllers.LicenseRevoke(licenseService, logg))
			r.Post("/{licenseId}/reactivate", controllers.LicenseReactivate(licenseService, logg))
		})

		r.Route("/activations", func(r chi.Router) {
			r.Get("/", controllers.ActivationList(activationService, logg))
			r.Post("/", controllers.ActivationActivate(activationService, logg))
			r.Post("/validate", controllers.ActivationValidate(activationService, logg))
			r.Post("/{activationId}/deactivate", controllers.ActivationDeactivate(activationService, logg))
			r.Post("/{activationId}/replace", controllers.ActivationReplace(activationService, logg))
		})

		r.Route("/versions", func(r chi.Router) {
			r.Get("/eligibility", controllers.VersionEligibility(versionService, logg))
			r.Route("/upgrades", func(r chi.Router) {
				r.Get("/", controllers.VersionUpgradeList(versionService, logg))
				r.Post("/", controllers.VersionUpgradePurchase(versionService, logg))
				r.Post("/{upgradeId}/complete", controllers.VersionUpgradeComplete(versionService, logg))
				r.Post("/{upgradeId}/fail", controllers.VersionUpgradeFail(versionService, logg))
			})
		})

		r.Route("/billing", func(r chi.Router) {
			r.Post("/proration/preview", controllers.BillingProrationPreview(billingService, logg))
			r.Post("/tier-changes", controllers.BillingTierChange(billingService, logg))
		})

		r.Route("/credits", func(r chi.Router) {
			r.Post("/tier-upgrades", controllers.CreditTierUpgrade(creditService, logg))
		})
	})

	return r
}
