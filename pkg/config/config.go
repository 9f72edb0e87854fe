package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// EnvPrefix namespaces every environment variable the server reads.
const EnvPrefix = "REPHLO"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Licensing    LicensingConfig
	Billing      BillingConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"REPHLO_APP_ENV" required:"true"`
	Port         string `envconfig:"REPHLO_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"REPHLO_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"REPHLO_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"REPHLO_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"REPHLO_DB_DSN"`
	Driver string `envconfig:"REPHLO_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"REPHLO_DB_HOST"`
	LegacyPort     int    `envconfig:"REPHLO_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"REPHLO_DB_USER"`
	LegacyPassword string `envconfig:"REPHLO_DB_PASSWORD"`
	LegacyName     string `envconfig:"REPHLO_DB_NAME"`
	LegacySSLMode  string `envconfig:"REPHLO_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"REPHLO_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"REPHLO_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"REPHLO_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"REPHLO_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"REPHLO_REDIS_URL" required:"true"`
	Address      string        `envconfig:"REPHLO_REDIS_ADDR"`
	Password     string        `envconfig:"REPHLO_REDIS_PASSWORD"`
	DB           int           `envconfig:"REPHLO_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REPHLO_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REPHLO_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REPHLO_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REPHLO_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"REPHLO_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// LicensingConfig carries perpetual-license issuance defaults.
type LicensingConfig struct {
	MaxActivations       int    `envconfig:"REPHLO_LICENSE_MAX_ACTIVATIONS" default:"3"`
	UpgradePricePerMajor string `envconfig:"REPHLO_LICENSE_UPGRADE_PRICE_PER_MAJOR" default:"99"`
	KeyGenMaxAttempts    int    `envconfig:"REPHLO_LICENSE_KEYGEN_MAX_ATTEMPTS" default:"10"`
}

// UpgradePricePerMajorUSD parses the configured per-major upgrade price.
func (l LicensingConfig) UpgradePricePerMajorUSD() (decimal.Decimal, error) {
	price, err := decimal.NewFromString(l.UpgradePricePerMajor)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing upgrade price per major: %w", err)
	}
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("upgrade price per major must not be negative")
	}
	return price, nil
}

type BillingConfig struct {
	InvoiceMemoPrefix   string        `envconfig:"REPHLO_BILLING_INVOICE_MEMO_PREFIX" default:"rephlo-tier-change"`
	ReconcileMinPending time.Duration `envconfig:"REPHLO_BILLING_RECONCILE_MIN_PENDING" default:"1h"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"REPHLO_CRON_INTERVAL" default:"24h"`
	LockTTL  time.Duration `envconfig:"REPHLO_CRON_LOCK_TTL" default:"25h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"REPHLO_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"REPHLO_AUTO_MIGRATE" default:"false"`
}

const (
	EnvDBDSN  = "REPHLO_DB_DSN"
	EnvDBHost = "REPHLO_DB_HOST"
	EnvDBUser = "REPHLO_DB_USER"
	EnvDBName = "REPHLO_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
