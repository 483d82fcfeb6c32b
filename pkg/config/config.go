package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/clinicledger/costing/pkg/errors"
)

// Document store drivers
const (
	StoreDriverMemory   = "memory"
	StoreDriverFile     = "file"
	StoreDriverSQLite   = "sqlite"
	StoreDriverRedis    = "redis"
	StoreDriverPostgres = "postgres"
)

// Corruption policies for local document backends
const (
	CorruptionPolicyReset = "reset"
	CorruptionPolicyFail  = "fail"
)

// Export archive drivers
const (
	ArchiveDriverNone       = "none"
	ArchiveDriverFilesystem = "fs"
	ArchiveDriverS3         = "s3"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Archive  ArchiveConfig
	OTEL     OTELConfig
}

// AppConfig holds process-level settings
type AppConfig struct {
	Name string
	Env  string
}

// StoreConfig selects and tunes the costing document store
type StoreConfig struct {
	Driver           string
	FilePath         string
	SQLitePath       string
	RedisKey         string
	CorruptionPolicy string
	MutateAttempts   int
	MutateTimeout    time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	EventChannel string
}

// ArchiveConfig selects where exported result files are archived
type ArchiveConfig struct {
	Driver      string
	RootDir     string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
	S3Prefix    string
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name: getEnv("APP_NAME", "costing"),
			Env:  getEnv("APP_ENV", "development"),
		},
		Store: StoreConfig{
			Driver:           strings.ToLower(getEnv("COSTING_STORE_DRIVER", StoreDriverFile)),
			FilePath:         getEnv("COSTING_STORE_FILE", "data/costing.json"),
			SQLitePath:       getEnv("COSTING_STORE_SQLITE_PATH", "data/costing.db"),
			RedisKey:         getEnv("COSTING_STORE_REDIS_KEY", "costing:document"),
			CorruptionPolicy: strings.ToLower(getEnv("COSTING_STORE_CORRUPTION_POLICY", CorruptionPolicyReset)),
			MutateAttempts:   getEnvAsInt("COSTING_STORE_MUTATE_ATTEMPTS", 5),
			MutateTimeout:    getEnvAsDuration("COSTING_STORE_MUTATE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "costing"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvAsInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			EventChannel: getEnv("REDIS_EVENT_CHANNEL", "costing:events"),
		},
		Archive: ArchiveConfig{
			Driver:      strings.ToLower(getEnv("COSTING_ARCHIVE_DRIVER", ArchiveDriverNone)),
			RootDir:     getEnv("COSTING_ARCHIVE_DIR", "data/exports"),
			S3Bucket:    getEnv("COSTING_ARCHIVE_S3_BUCKET", ""),
			S3Region:    getEnv("COSTING_ARCHIVE_S3_REGION", "us-east-1"),
			S3Endpoint:  getEnv("COSTING_ARCHIVE_S3_ENDPOINT", ""),
			S3PathStyle: getEnvAsBool("COSTING_ARCHIVE_S3_PATH_STYLE", false),
			S3Prefix:    getEnv("COSTING_ARCHIVE_S3_PREFIX", ""),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "costing-worker"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown drivers and policies
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverMemory, StoreDriverFile, StoreDriverSQLite, StoreDriverRedis, StoreDriverPostgres:
	default:
		return apperrors.NewValidationError(fmt.Sprintf("unknown store driver %q", c.Store.Driver))
	}
	switch c.Store.CorruptionPolicy {
	case CorruptionPolicyReset, CorruptionPolicyFail:
	default:
		return apperrors.NewValidationError(fmt.Sprintf("unknown corruption policy %q", c.Store.CorruptionPolicy))
	}
	if c.Store.MutateAttempts < 1 {
		return apperrors.NewValidationError("store mutate attempts must be at least 1")
	}
	switch c.Archive.Driver {
	case ArchiveDriverNone, ArchiveDriverFilesystem:
	case ArchiveDriverS3:
		if c.Archive.S3Bucket == "" {
			return apperrors.NewValidationError("COSTING_ARCHIVE_S3_BUCKET is required for the s3 archive")
		}
	default:
		return apperrors.NewValidationError(fmt.Sprintf("unknown archive driver %q", c.Archive.Driver))
	}
	return nil
}

// IsDevelopment reports whether the process runs in development mode
func (c *AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
