package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JwtSecret string
	JwtTTL    time.Duration

	// Server
	ApiPort        string
	ServiceApiPort string

	// Subscriptions
	SubscriptionPrice      float64
	SubscriptionPeriodDays int
	PaypalClientID         string
	PaypalSecret           string
	PaypalAPIBase          string

	// Messaging
	MessagePollInterval time.Duration
	MaxMessageLength    int

	// Background sweeps (subscription expiry, unread digest)
	SweepInterval time.Duration

	// Email
	SmtpHost           string
	SmtpPort           int
	SmtpUsername       string
	SmtpPassword       string
	SmtpFromAddress    string
	EmailVerifyTTL     time.Duration
	ResetAccessLinkTTL time.Duration

	// AWS S3
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string
	ImageBaseS3URL     string
	ImageMaxDimension  int
	UploadMaxSizeMB    int

	// App Defaults
	AppName     string
	FrontendURL string
	GetCacheTTL time.Duration

	// Rate Limiting Defaults
	RateLimitBucketSize int
	RateLimitRefillRate int // tokens per second
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	godotenv.Load()

	cfg := &Config{
		RunMode: runMode, // Set from flag
	}

	var err error

	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "eaglehurst")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "12345")
	cfg.PaypalClientID = getEnv("PAYPAL_CLIENT_ID", "")
	cfg.PaypalSecret = getEnv("PAYPAL_SECRET", "")
	cfg.PaypalAPIBase = getEnv("PAYPAL_API_BASE", "https://api-m.sandbox.paypal.com")
	cfg.SmtpHost = getEnv("SMTP_HOST", "")
	cfg.SmtpUsername = getEnv("SMTP_USERNAME", "")
	cfg.SmtpPassword = getEnv("SMTP_PASSWORD", "")
	cfg.SmtpFromAddress = getEnv("SMTP_FROM_ADDRESS", "noreply@eaglehurst.example.com")
	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")
	cfg.ImageBaseS3URL = getEnv("IMAGE_BASE_S3_URL", "")
	cfg.AppName = getEnv("APP_NAME", "Eaglehurst")
	cfg.FrontendURL = getEnv("FRONTEND_URL", "http://localhost:3000")

	cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	jwtTTLSeconds, err := strconv.ParseInt(getEnv("JWT_TTL_SECONDS", "3600"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL_SECONDS: %w", err)
	}
	cfg.JwtTTL = time.Duration(jwtTTLSeconds) * time.Second

	cfg.SmtpPort, err = strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}

	cfg.SubscriptionPrice, err = strconv.ParseFloat(getEnv("SUBSCRIPTION_PRICE", "99.00"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SUBSCRIPTION_PRICE: %w", err)
	}

	cfg.SubscriptionPeriodDays, err = strconv.Atoi(getEnv("SUBSCRIPTION_PERIOD_DAYS", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid SUBSCRIPTION_PERIOD_DAYS: %w", err)
	}

	pollIntervalSeconds, err := strconv.ParseInt(getEnv("MESSAGE_POLL_INTERVAL_SECONDS", "30"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MESSAGE_POLL_INTERVAL_SECONDS: %w", err)
	}
	cfg.MessagePollInterval = time.Duration(pollIntervalSeconds) * time.Second

	sweepIntervalSeconds, err := strconv.ParseInt(getEnv("SWEEP_INTERVAL_SECONDS", "3600"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL_SECONDS: %w", err)
	}
	cfg.SweepInterval = time.Duration(sweepIntervalSeconds) * time.Second

	cfg.MaxMessageLength, err = strconv.Atoi(getEnv("MAX_MESSAGE_LENGTH", "5000"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_MESSAGE_LENGTH: %w", err)
	}

	cfg.ImageMaxDimension, err = strconv.Atoi(getEnv("IMAGE_MAX_DIMENSION", "2048"))
	if err != nil {
		return nil, fmt.Errorf("invalid IMAGE_MAX_DIMENSION: %w", err)
	}

	cfg.UploadMaxSizeMB, err = strconv.Atoi(getEnv("UPLOAD_MAX_SIZE_MB", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid UPLOAD_MAX_SIZE_MB: %w", err)
	}

	emailVerifyTTLHours, err := strconv.ParseInt(getEnv("EMAIL_VERIFY_TTL_HOURS", "48"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid EMAIL_VERIFY_TTL_HOURS: %w", err)
	}
	cfg.EmailVerifyTTL = time.Duration(emailVerifyTTLHours) * time.Hour

	resetAccessLinkTTLMinutes, err := strconv.ParseInt(getEnv("RESET_ACCESS_LINK_TTL_MINUTES", "20"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RESET_ACCESS_LINK_TTL_MINUTES: %w", err)
	}
	cfg.ResetAccessLinkTTL = time.Duration(resetAccessLinkTTLMinutes) * time.Minute

	getCacheTTLSeconds, err := strconv.ParseInt(getEnv("GET_CACHE_TTL_SECONDS", "60"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid GET_CACHE_TTL_SECONDS: %w", err)
	}
	cfg.GetCacheTTL = time.Duration(getCacheTTLSeconds) * time.Second

	cfg.RateLimitBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_BUCKET_SIZE", "8"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_REFILL_RATE", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_REFILL_RATE: %w", err)
	}

	return cfg, nil
}
