package config

import (
	"os"
	"time"
)

type Config struct {
	APIBaseURL  string
	WSBaseURL   string
	JWTSecret   string
	CartDBPath  string
	HTTPTimeout time.Duration
}

func Load() *Config {
	return &Config{
		APIBaseURL:  getEnv("API_BASE_URL", "http://localhost:8081"),
		WSBaseURL:   getEnv("WS_BASE_URL", "ws://localhost:8081/ws"),
		JWTSecret:   getEnv("JWT_SECRET", "dev-secret-change-in-production"),
		CartDBPath:  getEnv("CART_DB_PATH", "orderflow.db"),
		HTTPTimeout: getDuration("HTTP_TIMEOUT", 15*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
