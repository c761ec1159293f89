/**
 * @description
 * This package handles configuration for both the API and the scheduler binaries. It
 * uses Viper to read environment variables and validates the combinations the services
 * depend on. Local .env files are loaded by the binaries before LoadConfig runs.
 *
 * @dependencies
 * - github.com/spf13/viper: Application configuration.
 */
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	LedgerBackendFile     = "file"
	LedgerBackendPostgres = "postgres"
)

// Config holds all configuration for the subscription services.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`
	AppEnv     string `mapstructure:"APP_ENV"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`

	LedgerBackend string        `mapstructure:"LEDGER_BACKEND"`
	LedgerFile    string        `mapstructure:"LEDGER_FILE"`
	DatabaseURL   string        `mapstructure:"DATABASE_URL"`
	RedisURL      string        `mapstructure:"REDIS_URL"`
	LedgerLockKey string        `mapstructure:"LEDGER_LOCK_KEY"`
	LedgerLockTTL time.Duration `mapstructure:"LEDGER_LOCK_TTL"`
	SweepLockTTL  time.Duration `mapstructure:"SWEEP_LOCK_TTL"`

	RPCURL              string        `mapstructure:"RPC_URL"`
	PrivateKey          string        `mapstructure:"PRIVATE_KEY"`
	ContractAddress     string        `mapstructure:"CONTRACT_ADDRESS"`
	ConfirmationTimeout time.Duration `mapstructure:"CONFIRMATION_TIMEOUT"`

	SweepInterval      time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepSchedule      string        `mapstructure:"SWEEP_SCHEDULE"`
	MaxRenewalAttempts int           `mapstructure:"MAX_RENEWAL_ATTEMPTS"`
	SchedulerEnabled   bool          `mapstructure:"SCHEDULER_ENABLED"`

	RabbitMQURL   string `mapstructure:"RABBITMQ_URL"`
	EventExchange string `mapstructure:"EVENT_EXCHANGE"`

	JWTSecret          string `mapstructure:"JWT_SECRET"`
	MetricsEnabled     bool   `mapstructure:"METRICS_ENABLED"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "4000")
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LEDGER_BACKEND", LedgerBackendFile)
	viper.SetDefault("LEDGER_FILE", "subscriptions.json")
	viper.SetDefault("LEDGER_LOCK_KEY", "subscriptions:ledger:lock")
	viper.SetDefault("LEDGER_LOCK_TTL", "30s")
	viper.SetDefault("SWEEP_LOCK_TTL", "10m")
	viper.SetDefault("CONFIRMATION_TIMEOUT", "2m")
	viper.SetDefault("SWEEP_INTERVAL", "60s")
	viper.SetDefault("MAX_RENEWAL_ATTEMPTS", 5)
	viper.SetDefault("SCHEDULER_ENABLED", true)
	viper.SetDefault("EVENT_EXCHANGE", "subscriptions.events")
	viper.SetDefault("METRICS_ENABLED", true)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://*,https://*")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range []string{
		"SERVER_PORT", "APP_ENV", "LOG_LEVEL",
		"LEDGER_BACKEND", "LEDGER_FILE", "DATABASE_URL", "REDIS_URL",
		"LEDGER_LOCK_KEY", "LEDGER_LOCK_TTL", "SWEEP_LOCK_TTL",
		"RPC_URL", "PRIVATE_KEY", "CONTRACT_ADDRESS", "CONFIRMATION_TIMEOUT",
		"SWEEP_INTERVAL", "SWEEP_SCHEDULE", "MAX_RENEWAL_ATTEMPTS", "SCHEDULER_ENABLED",
		"RABBITMQ_URL", "EVENT_EXCHANGE",
		"JWT_SECRET", "METRICS_ENABLED", "CORS_ALLOWED_ORIGINS",
	} {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("SERVER_PORT", "SERVER_PORT", "PORT")

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	config.LedgerBackend = strings.ToLower(strings.TrimSpace(config.LedgerBackend))
	config.RPCURL = strings.TrimSpace(config.RPCURL)
	config.PrivateKey = strings.TrimSpace(config.PrivateKey)
	config.ContractAddress = strings.TrimSpace(config.ContractAddress)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.SweepSchedule = strings.TrimSpace(config.SweepSchedule)

	err = config.validate()
	return
}

func (c Config) validate() error {
	switch c.LedgerBackend {
	case LedgerBackendFile:
		if strings.TrimSpace(c.LedgerFile) == "" {
			return errors.New("LEDGER_FILE must be set for the file ledger backend")
		}
	case LedgerBackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("DATABASE_URL must be set for the postgres ledger backend")
		}
	default:
		return fmt.Errorf("unsupported LEDGER_BACKEND %q", c.LedgerBackend)
	}

	set := 0
	for _, v := range []string{c.RPCURL, c.PrivateKey, c.ContractAddress} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return errors.New("RPC_URL, PRIVATE_KEY and CONTRACT_ADDRESS must be set together")
	}

	if c.SweepInterval <= 0 && c.SweepSchedule == "" {
		return errors.New("SWEEP_INTERVAL must be positive")
	}
	if c.MaxRenewalAttempts <= 0 {
		return errors.New("MAX_RENEWAL_ATTEMPTS must be positive")
	}
	if c.ConfirmationTimeout <= 0 {
		return errors.New("CONFIRMATION_TIMEOUT must be positive")
	}
	return nil
}

// SettlementConfigured reports whether the chain settlement credentials are present.
func (c Config) SettlementConfigured() bool {
	return c.RPCURL != "" && c.PrivateKey != "" && c.ContractAddress != ""
}

// RequireSettlement fails when the settlement credentials are missing. The scheduler
// cannot do anything useful without them.
func (c Config) RequireSettlement() error {
	if !c.SettlementConfigured() {
		return errors.New("RPC_URL, PRIVATE_KEY and CONTRACT_ADDRESS are required to run the renewal scheduler")
	}
	return nil
}

// SweepSpec is the cron spec the scheduler registers its sweep under.
func (c Config) SweepSpec() string {
	if c.SweepSchedule != "" {
		return c.SweepSchedule
	}
	return "@every " + c.SweepInterval.String()
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
