package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the chunk streaming binaries.
type Config struct {
	Server     ServerConfig
	Streaming  StreamingConfig
	Generation GenerationConfig
	Procedural ProceduralConfig
	Database   DatabaseConfig
	Logging    LoggingConfig
	Telemetry  TelemetryConfig
}

// ServerConfig holds HTTP server configuration for the generation service and
// the stats endpoint.
type ServerConfig struct {
	Host         string
	Port         string        `validate:"required,numeric"`
	ReadTimeout  time.Duration `validate:"gt=0"`
	WriteTimeout time.Duration `validate:"gt=0"`
	IdleTimeout  time.Duration `validate:"gt=0"`
	Environment  string        `validate:"oneof=development test staging production"`
	RateLimit    int64         `validate:"gte=0"` // requests per window per IP, 0 disables
	RateWindow   time.Duration `validate:"gt=0"`
}

// StreamingConfig holds chunk scheduler limits.
type StreamingConfig struct {
	Radius                 int32  `validate:"gte=0,lte=32"`
	Watermark              int    `validate:"gte=1"`
	ChunksPerFrame         int    `validate:"gte=1"`
	Workers                int    `validate:"gte=1,lte=256"`
	RetryBaseFrames        uint64 `validate:"gte=1"`
	MaxAttempts            int    `validate:"gte=1,lte=16"`
	TransparentBackToFront bool
}

// GenerationConfig selects where chunk content comes from.
type GenerationConfig struct {
	Source     string `validate:"oneof=local remote"`
	Seed       int64
	ParamsFile string
}

// ProceduralConfig holds remote generation service configuration.
type ProceduralConfig struct {
	BaseURL     string        `validate:"required,url"`
	Timeout     time.Duration `validate:"gt=0"`
	RetryCount  int           `validate:"gte=0,lte=10"`
	Format      string        `validate:"oneof=binary_gzip binary_zstd"`
	TokenSecret string
	TokenTTL    time.Duration `validate:"gt=0"`
}

// DatabaseConfig holds the failure ledger connection configuration.
type DatabaseConfig struct {
	Enabled         bool
	Host            string
	Port            int    `validate:"gte=1,lte=65535"`
	User            string
	Password        string `validate:"required_if=Enabled true"`
	Database        string
	SSLMode         string `validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxConnections  int    `validate:"gte=1"`
	MaxIdleConns    int    `validate:"gte=0"`
	ConnMaxLifetime time.Duration
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `validate:"oneof=debug info warn error"`
	Format     string `validate:"oneof=json text"`
	OutputPath string
}

// TelemetryConfig holds the frame log location. An empty Dir disables it.
type TelemetryConfig struct {
	Dir string
}

// Load reads configuration from environment variables and .env file
// The .env file is loaded from the current working directory.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found (this is OK if using environment variables): %v", err)
	}

	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8081"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
			RateLimit:    int64(getIntEnv("SERVER_RATE_LIMIT", 600)),
			RateWindow:   getDurationEnv("SERVER_RATE_WINDOW", time.Minute),
		},
		Streaming: StreamingConfig{
			Radius:                 int32(getIntEnv("STREAM_RADIUS", 4)),
			Watermark:              getIntEnv("STREAM_WATERMARK", 60),
			ChunksPerFrame:         getIntEnv("STREAM_CHUNKS_PER_FRAME", 8),
			Workers:                getIntEnv("STREAM_WORKERS", runtime.NumCPU()),
			RetryBaseFrames:        uint64(getIntEnv("STREAM_RETRY_BASE_FRAMES", 30)),
			MaxAttempts:            getIntEnv("STREAM_MAX_ATTEMPTS", 3),
			TransparentBackToFront: getBoolEnv("STREAM_TRANSPARENT_BACK_TO_FRONT", false),
		},
		Generation: GenerationConfig{
			Source:     getEnv("GEN_SOURCE", "local"),
			Seed:       int64(getIntEnv("GEN_SEED", 1337)),
			ParamsFile: getEnv("GEN_PARAMS_FILE", ""),
		},
		Procedural: ProceduralConfig{
			// 127.0.0.1 rather than localhost avoids IPv6 resolution on Windows
			BaseURL:     getEnv("PROCEDURAL_BASE_URL", "http://127.0.0.1:8081"),
			Timeout:     getDurationEnv("PROCEDURAL_TIMEOUT", 30*time.Second),
			RetryCount:  getIntEnv("PROCEDURAL_RETRY_COUNT", 3),
			Format:      getEnv("PROCEDURAL_FORMAT", "binary_zstd"),
			TokenSecret: getEnv("PROCEDURAL_TOKEN_SECRET", ""),
			TokenTTL:    getDurationEnv("PROCEDURAL_TOKEN_TTL", 5*time.Minute),
		},
		Database: DatabaseConfig{
			Enabled:         getBoolEnv("DB_ENABLED", false),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getIntEnv("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "chunkstream_dev"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxConnections:  getIntEnv("DB_MAX_CONNECTIONS", 5),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Logging: LoggingConfig{
			Level:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format:     strings.ToLower(getEnv("LOG_FORMAT", "text")),
			OutputPath: getEnv("LOG_OUTPUT_PATH", ""),
		},
		Telemetry: TelemetryConfig{
			Dir: getEnv("TELEMETRY_DIR", ""),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

var validate = validator.New()

// Validate checks field ranges and the rules that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if c.Server.IsProduction() && c.Procedural.TokenSecret == "" {
		return fmt.Errorf("PROCEDURAL_TOKEN_SECRET is required in production")
	}
	return nil
}

// DatabaseURL returns a PostgreSQL connection string.
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.SSLMode,
	)
}

// Addr returns host:port for the HTTP listener.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// IsDevelopment returns true if running in development mode.
func (c *ServerConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// Helper functions for environment variable access

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid integer value for %s: %s, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return intValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: invalid boolean value for %s: %s, using default: %t", key, value, defaultValue)
		return defaultValue
	}
	return boolValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: invalid duration value for %s: %s, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return duration
}
