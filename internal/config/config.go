package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the service reads from the environment.
// The near-duplicate proxy variants this service replaces differed only in
// these values, so they live here instead of in copy-and-modify handlers.
type Config struct {
	Server   ServerConfig
	AI       AIConfig
	Credits  CreditsConfig
	Auth     AuthConfig
	Database DatabaseConfig
}

type ServerConfig struct {
	Port string
}

type AIConfig struct {
	APIKey      string
	Model       string
	VisionModel string
	// Endpoint overrides the default Gemini API host. Empty means default.
	Endpoint string
	Timeout  time.Duration
}

type CreditsConfig struct {
	DailyLimit int
}

type AuthConfig struct {
	// FirebaseProjectID selects the Firebase verifier when set.
	FirebaseProjectID   string
	FirebaseCredentials string
	// JWTSecret backs the local HS256 verifier used when Firebase is not configured.
	JWTSecret string
}

type DatabaseConfig struct {
	// DSN for the optional estimate-history store. Empty disables persistence.
	DSN string
}

func Load() *Config {
	dailyLimit, _ := strconv.Atoi(getEnv("DAILY_CREDIT_LIMIT", "1000"))
	timeoutSecs, _ := strconv.Atoi(getEnv("UPSTREAM_TIMEOUT_SECONDS", "30"))

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		AI: AIConfig{
			APIKey:      getEnv("GEMINI_API_KEY", ""),
			Model:       getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
			VisionModel: getEnv("GEMINI_VISION_MODEL", "gemini-1.5-flash"),
			Endpoint:    getEnv("UPSTREAM_BASE_URL", ""),
			Timeout:     time.Duration(timeoutSecs) * time.Second,
		},
		Credits: CreditsConfig{
			DailyLimit: dailyLimit,
		},
		Auth: AuthConfig{
			FirebaseProjectID:   getEnv("FIREBASE_PROJECT_ID", ""),
			FirebaseCredentials: getEnv("FIREBASE_CREDENTIALS", ""),
			JWTSecret:           getEnv("JWT_SECRET", ""),
		},
		Database: DatabaseConfig{
			DSN: getEnv("DB_DSN", ""),
		},
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
