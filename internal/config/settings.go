package config

import (
	"os"
	"strconv"
)

// Settings are the process-level options read from the environment. Policy
// content lives in the policy file; only plumbing lives here.
type Settings struct {
	Port            int
	ReadTimeout     int
	WriteTimeout    int
	ShutdownTimeout int

	PolicyPath string
	DBPath     string

	RequireAuth bool
	JWTSecret   string

	LogLevel string
}

func FromEnv() Settings {
	return Settings{
		Port:            getEnvInt("PORT", 8080),
		ReadTimeout:     getEnvInt("READ_TIMEOUT", 30),
		WriteTimeout:    getEnvInt("WRITE_TIMEOUT", 60),
		ShutdownTimeout: getEnvInt("SHUTDOWN_TIMEOUT", 10),
		PolicyPath:      getEnv("POLICY_FILE", "./policies.yaml"),
		DBPath:          getEnv("DB_PATH", "./data/audit.db"),
		RequireAuth:     getEnvBool("REQUIRE_AUTH", false),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}
