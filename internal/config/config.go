package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Port                   string        `mapstructure:"PORT"`
	Env                    string        `mapstructure:"ENV"`
	DatabaseURL            string        `mapstructure:"DATABASE_URL"`
	DBMaxConns             int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema               string        `mapstructure:"DB_SCHEMA"`
	AuthIssuer             string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL            string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience           string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey         string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins            []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS           float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst         int           `mapstructure:"RATE_LIMIT_BURST"`
	ETLConfigDir           string        `mapstructure:"ETL_CONFIG_DIR"`
	ETLDataDir             string        `mapstructure:"ETL_DATA_DIR"`
	ETLOutputDir           string        `mapstructure:"ETL_OUTPUT_DIR"`
	ETLWorkers             int           `mapstructure:"ETL_WORKERS"`
	ETLQueueSize           int           `mapstructure:"ETL_QUEUE_SIZE"`
	ETLDefaultSourceConfig string        `mapstructure:"ETL_DEFAULT_SOURCE_CONFIG"`
	ETLDefaultDestination  string        `mapstructure:"ETL_DEFAULT_DESTINATION"`
	JobSweepSchedule       string        `mapstructure:"JOB_SWEEP_SCHEDULE"`
	JobStaleAfter          time.Duration `mapstructure:"JOB_STALE_AFTER"`
	MetricsEnabled         bool          `mapstructure:"METRICS_ENABLED"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"ETL_CONFIG_DIR", "ETL_DATA_DIR", "ETL_OUTPUT_DIR", "ETL_WORKERS", "ETL_QUEUE_SIZE",
	"ETL_DEFAULT_SOURCE_CONFIG", "ETL_DEFAULT_DESTINATION",
	"JOB_SWEEP_SCHEDULE", "JOB_STALE_AFTER", "METRICS_ENABLED",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_SCHEMA", "eureka")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("ETL_CONFIG_DIR", "./etc/sourceconfigs")
	v.SetDefault("ETL_DATA_DIR", "./var/uploads")
	v.SetDefault("ETL_OUTPUT_DIR", "./var/output")
	v.SetDefault("ETL_WORKERS", 4)
	v.SetDefault("ETL_QUEUE_SIZE", 100)
	v.SetDefault("ETL_DEFAULT_SOURCE_CONFIG", "spreadsheet")
	v.SetDefault("JOB_SWEEP_SCHEDULE", "@every 10m")
	v.SetDefault("JOB_STALE_AFTER", "6h")
	v.SetDefault("METRICS_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Warn().Msg("server is running in DEVELOPMENT mode (ENV=development); unauthenticated requests act as dev-user with admin access")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// some token verification source must be configured.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.ETLWorkers <= 0 {
		return fmt.Errorf("ETL_WORKERS must be positive, got %d", c.ETLWorkers)
	}
	if c.ETLQueueSize <= 0 {
		return fmt.Errorf("ETL_QUEUE_SIZE must be positive, got %d", c.ETLQueueSize)
	}
	if c.DBSchema == "" {
		return fmt.Errorf("DB_SCHEMA must not be empty")
	}
	if c.JobStaleAfter <= 0 {
		return fmt.Errorf("JOB_STALE_AFTER must be positive, got %s", c.JobStaleAfter)
	}
	return nil
}
