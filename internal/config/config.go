package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"profitboard/internal/logger"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	LogMode                string
	LogDir                 string
	DatabaseDriver         string
	DatabaseURL            string
	SQLitePath             string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	SummaryCacheTTLSeconds int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	CommissionTiers        string
	SeedAdminUsername      string
	SeedAdminPassword      string
}

// NewViper reads an optional .env file, then layers the environment over the
// defaults below. Auth values have no default so a missing secret is caught
// by the caller instead of silently running with a known one. Flags are bound
// into the returned instance before FromViper reads it.
func NewViper() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("LOG_MODE", "debug")
	v.SetDefault("LOG_DIR", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SQLITE_PATH", "profitboard.db")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SUMMARY_CACHE_TTL_SECONDS", 300)
	v.SetDefault("AUTH_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("COMMISSION_TIERS", "5,7,10,12,15,20")
	v.SetDefault("SEED_ADMIN_USERNAME", "admin")
	v.SetDefault("SEED_ADMIN_PASSWORD", "")
	return v
}

// FromViper maps a viper instance built by NewViper onto Config.
func FromViper(v *viper.Viper) Config {
	cfg := Config{
		Port:                   strings.TrimSpace(v.GetString("PORT")),
		AllowedOrigin:          strings.TrimSpace(v.GetString("ALLOWED_ORIGIN")),
		LogMode:                strings.TrimSpace(v.GetString("LOG_MODE")),
		LogDir:                 strings.TrimSpace(v.GetString("LOG_DIR")),
		DatabaseDriver:         strings.ToLower(strings.TrimSpace(v.GetString("DATABASE_DRIVER"))),
		DatabaseURL:            strings.TrimSpace(v.GetString("DATABASE_URL")),
		SQLitePath:             strings.TrimSpace(v.GetString("SQLITE_PATH")),
		RedisAddr:              strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:          v.GetString("REDIS_PASSWORD"),
		RedisDB:                v.GetInt("REDIS_DB"),
		SummaryCacheTTLSeconds: v.GetInt("SUMMARY_CACHE_TTL_SECONDS"),
		AuthSecret:             strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes:  v.GetInt("ACCESS_TOKEN_TTL_MINUTES"),
		CommissionTiers:        strings.TrimSpace(v.GetString("COMMISSION_TIERS")),
		SeedAdminUsername:      strings.ToLower(strings.TrimSpace(v.GetString("SEED_ADMIN_USERNAME"))),
		SeedAdminPassword:      v.GetString("SEED_ADMIN_PASSWORD"),
	}

	// DATABASE_URL alone keeps meaning postgres, as before drivers were selectable.
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = DriverMemory
		if cfg.DatabaseURL != "" {
			cfg.DatabaseDriver = DriverPostgres
		}
	}
	if cfg.SummaryCacheTTLSeconds < 1 {
		cfg.SummaryCacheTTLSeconds = 300
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) LoggerOptions() logger.Options {
	return logger.Options{Dir: c.LogDir}
}

// Validate reports configuration that cannot work regardless of environment.
func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.DatabaseDriver == DriverSQLite && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
	}
	return nil
}
