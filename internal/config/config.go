package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// RateLimitConfig holds per-endpoint-group rate limiting settings.
type RateLimitConfig struct {
	Enabled bool

	ResolveRequestsPerMinute int
	WebhookRequestsPerMinute int
	AdminRequestsPerMinute   int
}

// ValidationConfig holds request validation settings.
type ValidationConfig struct {
	MaxRequestBodySize int64
}

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr string
	ServerPort int

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (optional; without it the lock and cache fall back to
	// in-process implementations, which is only safe single-replica)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Chat provider
	ProviderBaseURL    string
	ProviderAPIKey     string
	ProviderAPISecret  string
	ProviderTimeout    time.Duration
	ProviderMaxRetries int

	// Collaborating services (optional)
	EventsBaseURL string
	EventsAPIKey  string
	NotifyBaseURL string
	NotifyAPIKey  string

	// Service auth
	JWTSecret string
	JWTIssuer string

	// Webhook signature secret shared with the chat provider
	WebhookSecret string

	// Room resolution
	LockTTL      time.Duration
	LockWait     time.Duration
	RoomCacheTTL time.Duration

	// Background reconciliation; zero disables the loop
	AuditInterval time.Duration

	RateLimit  RateLimitConfig
	Validation ValidationConfig
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Server defaults
		ServerAddr: getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort: getEnvInt("SERVER_PORT", 8080),

		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "chatroom"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		// Redis (optional)
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		// Chat provider
		ProviderBaseURL:    getEnv("CHAT_PROVIDER_URL", ""),
		ProviderAPIKey:     getEnv("CHAT_PROVIDER_KEY", ""),
		ProviderAPISecret:  getEnv("CHAT_PROVIDER_SECRET", ""),
		ProviderTimeout:    getEnvDuration("CHAT_PROVIDER_TIMEOUT", 10*time.Second),
		ProviderMaxRetries: getEnvInt("CHAT_PROVIDER_MAX_RETRIES", 3),

		// Collaborating services
		EventsBaseURL: getEnv("EVENTS_SERVICE_URL", ""),
		EventsAPIKey:  getEnv("EVENTS_SERVICE_KEY", ""),
		NotifyBaseURL: getEnv("NOTIFY_SERVICE_URL", ""),
		NotifyAPIKey:  getEnv("NOTIFY_SERVICE_KEY", ""),

		// Service auth
		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "chatroom"),

		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),

		// Room resolution
		LockTTL:      getEnvDuration("LOCK_TTL", 10*time.Second),
		LockWait:     getEnvDuration("LOCK_WAIT", 5*time.Second),
		RoomCacheTTL: getEnvDuration("ROOM_CACHE_TTL", 5*time.Minute),

		AuditInterval: getEnvDuration("AUDIT_INTERVAL", 0),

		RateLimit: RateLimitConfig{
			Enabled:                  getEnvBool("RATE_LIMIT_ENABLED", true),
			ResolveRequestsPerMinute: getEnvInt("RATE_LIMIT_RESOLVE_PER_MINUTE", 120),
			WebhookRequestsPerMinute: getEnvInt("RATE_LIMIT_WEBHOOK_PER_MINUTE", 600),
			AdminRequestsPerMinute:   getEnvInt("RATE_LIMIT_ADMIN_PER_MINUTE", 10),
		},
		Validation: ValidationConfig{
			MaxRequestBodySize: getEnvInt64("MAX_REQUEST_BODY_SIZE", 1<<20),
		},
	}

	// Validate required fields
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
	}
	if cfg.ProviderBaseURL == "" {
		return nil, fmt.Errorf("CHAT_PROVIDER_URL is required")
	}

	return cfg, nil
}

// HasRedis returns true if Redis is configured.
func (c *Config) HasRedis() bool {
	return c.RedisAddr != ""
}

// HasEventsService returns true if the event registration service is configured.
func (c *Config) HasEventsService() bool {
	return c.EventsBaseURL != ""
}

// HasNotifyService returns true if the push notification service is configured.
func (c *Config) HasNotifyService() bool {
	return c.NotifyBaseURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
