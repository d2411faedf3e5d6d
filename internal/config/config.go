package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/enikshay/casetools/internal/platform/db"
)

// Auth modes.
const (
	AuthModeDevelopment = "development"
	AuthModeJWT         = "jwt"
)

// minSigningKeyLen is the shortest HS256 key accepted outside development.
const minSigningKeyLen = 32

type Config struct {
	Port                   string `mapstructure:"PORT"`
	Env                    string `mapstructure:"ENV"`
	AuthMode               string `mapstructure:"AUTH_MODE"`
	DatabaseURL            string `mapstructure:"DATABASE_URL"`
	DBMaxConns             int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32  `mapstructure:"DB_MIN_CONNS"`
	DBSchema               string `mapstructure:"DB_SCHEMA"`
	DefaultDomain          string `mapstructure:"DEFAULT_DOMAIN"`
	AuthIssuer             string `mapstructure:"AUTH_ISSUER"`
	AuthAudience           string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey         string `mapstructure:"AUTH_SIGNING_KEY"`
	BulkUpdateBatchSize    int    `mapstructure:"BULK_UPDATE_BATCH_SIZE"`
	UpdaterWorkers         int    `mapstructure:"UPDATER_WORKERS"`
	UpdaterPartitionSize   int    `mapstructure:"UPDATER_PARTITION_SIZE"`
	ReportDir              string `mapstructure:"REPORT_DIR"`
	FDCPrescriptionDays    int    `mapstructure:"FDC_PRESCRIPTION_DAYS_THRESHOLD"`
	NonFDCPrescriptionDays int    `mapstructure:"NON_FDC_PRESCRIPTION_DAYS_THRESHOLD"`
	PushgatewayURL         string `mapstructure:"PUSHGATEWAY_URL"`
	ReportS3Bucket         string `mapstructure:"REPORT_S3_BUCKET"`
	ReportS3Region         string `mapstructure:"REPORT_S3_REGION"`
	ReportS3Endpoint       string `mapstructure:"REPORT_S3_ENDPOINT"`
	ReportS3Prefix         string `mapstructure:"REPORT_S3_PREFIX"`
	ReportS3PathStyle      bool   `mapstructure:"REPORT_S3_PATH_STYLE"`
}

var keys = []string{
	"PORT",
	"ENV",
	"AUTH_MODE",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"DB_SCHEMA",
	"DEFAULT_DOMAIN",
	"AUTH_ISSUER",
	"AUTH_AUDIENCE",
	"AUTH_SIGNING_KEY",
	"BULK_UPDATE_BATCH_SIZE",
	"UPDATER_WORKERS",
	"UPDATER_PARTITION_SIZE",
	"REPORT_DIR",
	"FDC_PRESCRIPTION_DAYS_THRESHOLD",
	"NON_FDC_PRESCRIPTION_DAYS_THRESHOLD",
	"PUSHGATEWAY_URL",
	"REPORT_S3_BUCKET",
	"REPORT_S3_REGION",
	"REPORT_S3_ENDPOINT",
	"REPORT_S3_PREFIX",
	"REPORT_S3_PATH_STYLE",
}

// Load reads configuration from the environment and an optional .env file.
// DATABASE_URL is not required here since fixture-backed commands run without a
// database; see RequireDatabase.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEFAULT_DOMAIN", "enikshay")
	v.SetDefault("BULK_UPDATE_BATCH_SIZE", 100)
	v.SetDefault("UPDATER_WORKERS", 4)
	v.SetDefault("UPDATER_PARTITION_SIZE", 1000)
	v.SetDefault("REPORT_DIR", "reports")
	v.SetDefault("FDC_PRESCRIPTION_DAYS_THRESHOLD", 168)
	v.SetDefault("NON_FDC_PRESCRIPTION_DAYS_THRESHOLD", 180)

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
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// ResolvedAuthMode returns AUTH_MODE when set, otherwise "development" for
// ENV=development and "jwt" for everything else.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	return AuthModeJWT
}

// RequireDatabase reports an error when no DATABASE_URL is configured.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// Validate checks that the configuration is safe to run. Outside development mode
// AUTH_SIGNING_KEY must be set and at least 32 bytes long.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != AuthModeDevelopment && mode != AuthModeJWT {
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeDevelopment, AuthModeJWT, mode)
	}
	if mode == AuthModeJWT {
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is required when AUTH_MODE is %q (current ENV=%q)", AuthModeJWT, c.Env)
		}
		if len(c.AuthSigningKey) < minSigningKeyLen {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least %d bytes, got %d", minSigningKeyLen, len(c.AuthSigningKey))
		}
	}

	if !db.ValidDomain(c.DefaultDomain) {
		return fmt.Errorf("DEFAULT_DOMAIN %q is not a valid domain name", c.DefaultDomain)
	}

	if c.DBMaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be positive, got %d", c.DBMaxConns)
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS (%d), got %d", c.DBMaxConns, c.DBMinConns)
	}

	positive := []struct {
		name  string
		value int
	}{
		{"BULK_UPDATE_BATCH_SIZE", c.BulkUpdateBatchSize},
		{"UPDATER_WORKERS", c.UpdaterWorkers},
		{"UPDATER_PARTITION_SIZE", c.UpdaterPartitionSize},
		{"FDC_PRESCRIPTION_DAYS_THRESHOLD", c.FDCPrescriptionDays},
		{"NON_FDC_PRESCRIPTION_DAYS_THRESHOLD", c.NonFDCPrescriptionDays},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}

	if c.ReportDir == "" {
		return fmt.Errorf("REPORT_DIR must not be empty")
	}
	return nil
}
