package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServerAddress string
	Environment   string
	Database      DatabaseConfig
	Migration     MigrationConfig
	Settlement    SettlementConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	Params   string
}

type MigrationConfig struct {
	Dir string
}

// SettlementConfig holds engine-wide settlement defaults. Tolerance is
// in minor units of the engine currency; per-client configuration rows
// may override it.
type SettlementConfig struct {
	Currency         string
	ToleranceMinor   int64
	FailureThreshold float64
	MaxRetries       int
	RetryBackoff     time.Duration
	WorkerCount      int
	WebhookURL       string
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_ADDRESS", ":8080")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("MIGRATION_DIR", "migrations")
	viper.SetDefault("DB_PARAMS", "parseTime=true")
	viper.SetDefault("SETTLEMENT_CURRENCY", "INR")
	viper.SetDefault("SETTLEMENT_TOLERANCE_MINOR", 0)
	viper.SetDefault("SETTLEMENT_FAILURE_THRESHOLD", 0.0)
	viper.SetDefault("SETTLEMENT_MAX_RETRIES", 3)
	viper.SetDefault("SETTLEMENT_RETRY_BACKOFF", "200ms")
	viper.SetDefault("SETTLEMENT_WORKER_COUNT", 4)

	if err := viper.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(".env"); !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{
		ServerAddress: viper.GetString("SERVER_ADDRESS"),
		Environment:   viper.GetString("ENVIRONMENT"),
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetInt("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Name:     viper.GetString("DB_NAME"),
			Params:   viper.GetString("DB_PARAMS"),
		},
		Migration: MigrationConfig{
			Dir: viper.GetString("MIGRATION_DIR"),
		},
		Settlement: SettlementConfig{
			Currency:         viper.GetString("SETTLEMENT_CURRENCY"),
			ToleranceMinor:   viper.GetInt64("SETTLEMENT_TOLERANCE_MINOR"),
			FailureThreshold: viper.GetFloat64("SETTLEMENT_FAILURE_THRESHOLD"),
			MaxRetries:       viper.GetInt("SETTLEMENT_MAX_RETRIES"),
			RetryBackoff:     viper.GetDuration("SETTLEMENT_RETRY_BACKOFF"),
			WorkerCount:      viper.GetInt("SETTLEMENT_WORKER_COUNT"),
			WebhookURL:       viper.GetString("SETTLEMENT_WEBHOOK_URL"),
		},
	}

	return config, nil
}

// GetDSN returns the MySQL DSN string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Params,
	)
}

// GetMigrationDBURL returns the database URL for migrations
func (c *Config) GetMigrationDBURL() string {
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%d)/%s?%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Params,
	)
}
