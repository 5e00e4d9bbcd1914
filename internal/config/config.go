package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Env string

	// Database
	DBDriver       string
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBSSLMode      string
	SQLitePath     string
	MigrationsPath string

	// Ledger
	LedgerMaxRetries uint64
	LedgerRetryBase  time.Duration
	LedgerTxTimeout  time.Duration
	DefaultCurrency  string

	// Scheduler
	RebuildSchedule  string
	MaturitySchedule string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if not already loaded
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	config := &Config{
		Env: getEnv("ENV", "development"),

		// Database
		DBDriver:       getEnv("DB_DRIVER", "sqlite"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "folio"),
		DBPassword:     getEnv("DB_PASSWORD", "folio"),
		DBName:         getEnv("DB_NAME", "folio"),
		DBSSLMode:      getEnv("DB_SSLMODE", "disable"),
		SQLitePath:     getEnv("SQLITE_PATH", "folio.db"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),

		DefaultCurrency: getEnv("DEFAULT_CURRENCY", "EGP"),

		RebuildSchedule:  getEnv("REBUILD_SCHEDULE", "@daily"),
		MaturitySchedule: getEnv("MATURITY_SCHEDULE", "0 1 * * *"),
	}

	retriesStr := getEnv("LEDGER_MAX_RETRIES", "5")
	retries, err := strconv.ParseUint(retriesStr, 10, 64)
	if err != nil {
		log.Printf("Warning: invalid LEDGER_MAX_RETRIES value '%s', falling back to 5\n", retriesStr)
		retries = 5
	}
	config.LedgerMaxRetries = retries

	config.LedgerRetryBase = getDuration("LEDGER_RETRY_BASE", 10*time.Millisecond)
	config.LedgerTxTimeout = getDuration("LEDGER_TX_TIMEOUT", 5*time.Second)

	return config, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, defaultValue.String())
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("Warning: invalid %s value '%s', falling back to %s\n", key, raw, defaultValue)
		return defaultValue
	}
	return d
}
