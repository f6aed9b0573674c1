package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvironmentType represents the application environment
type EnvironmentType string

const (
	EnvironmentDevelopment EnvironmentType = "development"
	EnvironmentProduction  EnvironmentType = "production"
)

// String returns the string representation of the environment type
func (e EnvironmentType) String() string {
	return string(e)
}

// IsValid checks if the environment type is valid
func (e EnvironmentType) IsValid() bool {
	switch e {
	case EnvironmentDevelopment, EnvironmentProduction:
		return true
	default:
		return false
	}
}

// Environment holds process-level settings read from the environment
type Environment struct {
	Environment EnvironmentType
	ConfigPath  string
}

// LoadEnv reads a .env file when present and returns the environment
// settings, defaulting to development.
func LoadEnv() *Environment {
	_ = godotenv.Load()

	envStr := strings.ToLower(strings.TrimSpace(getEnv("ENVIRONMENT", string(EnvironmentDevelopment))))
	envType := EnvironmentType(envStr)
	if !envType.IsValid() {
		envType = EnvironmentDevelopment
	}

	return &Environment{
		Environment: envType,
		ConfigPath:  getEnv("CONFIG_PATH", "config.yaml"),
	}
}

// getEnv gets the environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
