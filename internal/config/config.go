// Package config loads application configuration from environment
// variables and validates it before anything touches the database or the
// blob store.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ingest   IngestConfig
	Blob     BlobConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server configuration for the query API.
type ServerConfig struct {
	Host string `validate:"required"`
	Port string `validate:"required,numeric"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	User     string `validate:"required"`
	Password string
	DBName   string `validate:"required"`
	SSLMode  string `validate:"oneof=disable require verify-ca verify-full"`
}

// IngestConfig controls the batch ingestion job.
type IngestConfig struct {
	// Workers bounds the phase-one decode pool.
	Workers int `validate:"min=1,max=256"`
	// BatchSize is how many files share one store transaction.
	BatchSize int `validate:"min=1,max=10000"`
	// OwnerAddresses mark messages as sent rather than received when the
	// sender matches one of them. Comma-separated.
	OwnerAddresses []string
}

// BlobConfig holds optional S3/MinIO settings for mirroring large
// attachment payloads. Disabled unless an endpoint is set.
type BlobConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	// MirrorThreshold is the payload size above which attachments are
	// mirrored to the blob store.
	MirrorThreshold int64
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json text"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "mailcorpus"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Ingest: IngestConfig{
			Workers:        getIntEnv("INGEST_WORKERS", runtime.NumCPU()),
			BatchSize:      getIntEnv("INGEST_BATCH_SIZE", 50),
			OwnerAddresses: splitEnv("INGEST_OWNER_ADDRESSES"),
		},
		Blob: BlobConfig{
			Endpoint:        getEnv("BLOB_ENDPOINT", ""),
			Region:          getEnv("BLOB_REGION", "us-east-1"),
			Bucket:          getEnv("BLOB_BUCKET", "mailcorpus-attachments"),
			AccessKeyID:     getEnv("BLOB_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BLOB_SECRET_ACCESS_KEY", ""),
			UseSSL:          getBoolEnv("BLOB_USE_SSL", false),
			MirrorThreshold: int64(getIntEnv("BLOB_MIRROR_THRESHOLD", 1<<20)),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// Enabled reports whether blob mirroring is configured.
func (b *BlobConfig) Enabled() bool {
	return b.Endpoint != "" && b.Bucket != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitEnv(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}
