package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the rank tracker service
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Server configuration
	Port string

	// Auth Service configuration
	AuthServiceURL string

	// Business Profile Service configuration
	ProfileServiceURL string

	// Ranking provider configuration
	ProviderBaseURL string
	ProviderAPIKey  string
	ProviderTimeout time.Duration

	// Run execution
	WorkerCount    int
	MaxRunDuration time.Duration

	// Scheduler
	SchedulerInterval time.Duration

	// Notifications
	SendGridAPIKey    string
	SendGridFromName  string
	SendGridFromEmail string
}

// Load loads configuration from environment variables
func Load() *Config {
	config := &Config{
		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret"),
		DBName:     getEnv("DB_NAME", "ranktracker"),

		// Server defaults
		Port: getEnv("PORT", "8080"),

		AuthServiceURL:    getEnv("AUTH_SERVICE_URL", "http://auth-service:8080"),
		ProfileServiceURL: getEnv("PROFILE_SERVICE_URL", "http://profile-service:8080"),

		ProviderBaseURL: getEnv("RANK_PROVIDER_URL", "https://api.localrank.example.com"),
		ProviderAPIKey:  getEnv("RANK_PROVIDER_API_KEY", ""),
		ProviderTimeout: getDurationEnv("RANK_PROVIDER_TIMEOUT", 15*time.Second),

		WorkerCount:    getIntEnv("RUN_WORKERS", 8),
		MaxRunDuration: getDurationEnv("MAX_RUN_DURATION", 30*time.Minute),

		SchedulerInterval: getDurationEnv("SCHEDULER_INTERVAL", time.Minute),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Rank Tracker"),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", "noreply@ranktracker.example.com"),
	}

	return config
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
