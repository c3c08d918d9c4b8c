// config.go - Configuration loaded from environment variables

package configs

import (
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Provider ProviderConfig
	Pipeline PipelineConfig
	Cache    CacheConfig
	Server   ServerConfig
	Mongo    MongoConfig
	Minio    MinioConfig
	Log      LogConfig
}

// ProviderConfig selects and tunes the extraction providers.
type ProviderConfig struct {
	Primary string // "gemini" or "mistral"; the other one becomes the fallback when configured

	GeminiAPIKey string
	GeminiModel  string

	MistralAPIKey  string
	MistralModel   string
	MistralBaseURL string

	Temperature     float32
	MaxOutputTokens int32
	Timeout         time.Duration

	RateLimitTokens int
	RateLimitRefill time.Duration
}

// PipelineConfig tunes preprocessing and batch orchestration.
type PipelineConfig struct {
	SchemaVersion      string
	MaxImageDimension  int
	JPEGQuality        int
	BatchGroupSize     int
	RetryBudget        int
	RetryInitialDelay  time.Duration
	RetryMaxDelay      time.Duration
	MaxUploadSizeBytes int64
}

// CacheConfig bounds the extraction cache.
type CacheConfig struct {
	Size     int
	TTL      time.Duration
	RedisURL string
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port           string
	AllowedOrigins string
	GinMode        string
}

// MongoConfig is optional; an empty URI disables record persistence.
type MongoConfig struct {
	URI    string
	DBName string
}

// MinioConfig is optional; an empty endpoint disables source image storage.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	// Load .env file if exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		Provider: ProviderConfig{
			Primary:         getEnv("OCR_PROVIDER", "gemini"),
			GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
			GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			MistralAPIKey:   getEnv("MISTRAL_API_KEY", ""),
			MistralModel:    getEnv("MISTRAL_MODEL", "pixtral-12b-2409"),
			MistralBaseURL:  getEnv("MISTRAL_BASE_URL", "https://api.mistral.ai/v1"),
			Temperature:     float32(getEnvFloat("TEMPERATURE", 0.1)),
			MaxOutputTokens: int32(getEnvInt("MAX_OUTPUT_TOKENS", 2048)),
			Timeout:         getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),
			RateLimitTokens: getEnvInt("RATE_LIMIT_TOKENS", 12),
			RateLimitRefill: getEnvDuration("RATE_LIMIT_REFILL", 5*time.Second),
		},
		Pipeline: PipelineConfig{
			SchemaVersion:      getEnv("SCHEMA_VERSION", "identity-v1"),
			MaxImageDimension:  getEnvInt("MAX_IMAGE_DIMENSION", 2400),
			JPEGQuality:        getEnvInt("JPEG_QUALITY", 85),
			BatchGroupSize:     getEnvInt("BATCH_GROUP_SIZE", 3),
			RetryBudget:        getEnvInt("RETRY_BUDGET", 1),
			RetryInitialDelay:  getEnvDuration("RETRY_INITIAL_DELAY", time.Second),
			RetryMaxDelay:      getEnvDuration("RETRY_MAX_DELAY", 8*time.Second),
			MaxUploadSizeBytes: int64(getEnvInt("MAX_UPLOAD_SIZE_MB", 20)) << 20,
		},
		Cache: CacheConfig{
			Size:     getEnvInt("CACHE_SIZE", 256),
			TTL:      getEnvDuration("CACHE_TTL", 24*time.Hour),
			RedisURL: getEnv("REDIS_URL", ""),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			AllowedOrigins: getEnv("ALLOWED_ORIGINS", "*"),
			GinMode:        getEnv("GIN_MODE", ""),
		},
		Mongo: MongoConfig{
			URI:    getEnv("MONGO_URI", ""),
			DBName: getEnv("MONGO_DB_NAME", "identity"),
		},
		Minio: MinioConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "identity-images"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	var errs []error
	switch c.Provider.Primary {
	case "gemini":
		if c.Provider.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required when OCR_PROVIDER=gemini"))
		}
	case "mistral":
		if c.Provider.MistralAPIKey == "" {
			errs = append(errs, errors.New("MISTRAL_API_KEY is required when OCR_PROVIDER=mistral"))
		}
	default:
		errs = append(errs, errors.New("OCR_PROVIDER must be gemini or mistral"))
	}
	if c.Pipeline.BatchGroupSize < 1 {
		errs = append(errs, errors.New("BATCH_GROUP_SIZE must be at least 1"))
	}
	if c.Pipeline.RetryBudget < 0 || c.Pipeline.RetryBudget > 3 {
		errs = append(errs, errors.New("RETRY_BUDGET must be between 0 and 3"))
	}
	if c.Cache.Size < 1 {
		errs = append(errs, errors.New("CACHE_SIZE must be positive"))
	}
	if c.Pipeline.JPEGQuality < 1 || c.Pipeline.JPEGQuality > 100 {
		errs = append(errs, errors.New("JPEG_QUALITY must be within 1..100"))
	}
	return errors.Join(errs...)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
