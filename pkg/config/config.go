package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the application configuration
type Config struct {
	Environment        string
	ServerPort         int
	LogLevel           string
	CORSAllowedOrigins []string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisURL string

	JWTSecret string

	// OnboardingStorage selects where per-user onboarding state lives:
	// "postgres" keeps it on the user record, "redis" keeps a JSON blob
	// keyed by user ID.
	OnboardingStorage   string
	OnboardingEnabled   bool
	RequireOrganization bool
	OnboardingPath      string
	FrontendURL         string

	RateLimitMax              int
	RateLimitWindowSeconds    int
	OnboardingRateLimitMax    int
	OnboardingRateLimitWindow int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnv("SERVER_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	rateLimitMax, err := strconv.Atoi(getEnv("RATE_LIMIT_MAX", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_MAX: %w", err)
	}

	rateLimitWindow, err := strconv.Atoi(getEnv("RATE_LIMIT_WINDOW_SECONDS", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW_SECONDS: %w", err)
	}

	onboardingRateMax, err := strconv.Atoi(getEnv("ONBOARDING_RATE_LIMIT_MAX", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid ONBOARDING_RATE_LIMIT_MAX: %w", err)
	}

	onboardingRateWindow, err := strconv.Atoi(getEnv("ONBOARDING_RATE_LIMIT_WINDOW_SECONDS", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid ONBOARDING_RATE_LIMIT_WINDOW_SECONDS: %w", err)
	}

	storage := getEnv("ONBOARDING_STORAGE", "postgres")
	if storage != "postgres" && storage != "redis" {
		return nil, fmt.Errorf("invalid ONBOARDING_STORAGE %q: must be postgres or redis", storage)
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  port,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: parseCSVEnv("CORS_ALLOWED_ORIGINS", []string{
			"http://localhost:5173",
			"http://localhost:3000",
		}),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     dbPort,
		DBUser:     getEnv("DB_USER", "flowstack"),
		DBPassword: getEnv("DB_PASSWORD", "flowstack"),
		DBName:     getEnv("DB_NAME", "flowstack"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),

		JWTSecret: jwtSecret,

		OnboardingStorage:   storage,
		OnboardingEnabled:   parseBoolEnv("ONBOARDING_ENABLED", true),
		RequireOrganization: parseBoolEnv("REQUIRE_ORGANIZATION", true),
		OnboardingPath:      getEnv("ONBOARDING_PATH", "/onboarding"),
		FrontendURL:         getEnv("FRONTEND_URL", "http://localhost:5173"),

		RateLimitMax:              rateLimitMax,
		RateLimitWindowSeconds:    rateLimitWindow,
		OnboardingRateLimitMax:    onboardingRateMax,
		OnboardingRateLimitWindow: onboardingRateWindow,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseCSVEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
