package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var (
	envOnce   sync.Once
	envLoaded bool
)

// LoadEnvOnce loads the .env file only once during the process lifetime.
func LoadEnvOnce() {
	envOnce.Do(loadEnvironment)
}

func loadEnvironment() {
	envPaths := []string{
		".env",
		"../.env",
		"../../.env",
		filepath.Join(os.Getenv("APP_ROOT"), ".env"),
	}

	var loaded bool
	for _, path := range envPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err == nil {
			// zap is not configured yet at this point
			log.Printf("environment loaded from: %s", path)
			loaded = true
			break
		}
	}

	if !loaded && isContainerEnvironment() {
		log.Println("running in container - using environment variables")
	}

	envLoaded = true
}

// isContainerEnvironment detects if we're running in a container
func isContainerEnvironment() bool {
	for _, indicator := range []string{"/.dockerenv", "/run/.containerenv"} {
		if _, err := os.Stat(indicator); err == nil {
			return true
		}
	}
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// GetEnvWithFallback gets an environment variable with a fallback value
func GetEnvWithFallback(key, fallback string) string {
	LoadEnvOnce()

	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// GetEnvBool gets an environment variable as boolean with fallback
func GetEnvBool(key string, fallback bool) bool {
	LoadEnvOnce()

	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value == "true" || value == "1" || value == "yes" || value == "on"
}

// GetEnvInt gets an integer environment variable, falling back on parse errors.
func GetEnvInt(key string, fallback int) int {
	LoadEnvOnce()

	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

// GetEnvFloat gets a float environment variable, falling back on parse errors.
func GetEnvFloat(key string, fallback float64) float64 {
	LoadEnvOnce()

	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return f
}

// GetEnvDuration parses a Go duration string ("15s", "30m").
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	LoadEnvOnce()

	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// IsEnvLoaded returns whether the environment has been loaded
func IsEnvLoaded() bool {
	return envLoaded
}
