package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Completion upstream
	CompletionProvider string
	DeepSeekAPIKey     string
	GeminiAPIKey       string
	CompletionBaseURL  string
	CompletionModel    string
	CompletionTimeout  time.Duration

	// Sessions
	SessionIdleTTL time.Duration

	// Documents
	ExtractionServiceURL string
	MaxUploadBytes       int64

	// SMTP
	SMTPHost    string
	SMTPPort    string
	SMTPUser    string
	SMTPPass    string
	SMTPFrom    string
	MailWorkers int

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", "3001"),
		Env:                  getEnvOrDefault("ENV", "development"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "console"),
		DatabaseURL:          mustGetEnv("DATABASE_URL"),
		RedisURL:             mustGetEnv("REDIS_URL"),
		JWTSecret:            mustGetEnv("JWT_SECRET"),
		CompletionProvider:   strings.ToLower(getEnvOrDefault("COMPLETION_PROVIDER", "deepseek")),
		DeepSeekAPIKey:       os.Getenv("DEEPSEEK_API_KEY"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		CompletionBaseURL:    getEnvOrDefault("COMPLETION_BASE_URL", ""),
		CompletionModel:      getEnvOrDefault("COMPLETION_MODEL", ""),
		CompletionTimeout:    getEnvAsDurationOrDefault("COMPLETION_TIMEOUT", 60*time.Second),
		SessionIdleTTL:       getEnvAsDurationOrDefault("SESSION_IDLE_TTL", 30*time.Minute),
		ExtractionServiceURL: getEnvOrDefault("EXTRACTION_SERVICE_URL", ""),
		MaxUploadBytes:       int64(getEnvAsIntOrDefault("MAX_UPLOAD_MB", 10)) << 20,
		SMTPHost:             getEnvOrDefault("SMTP_HOST", ""),
		SMTPPort:             getEnvOrDefault("SMTP_PORT", "587"),
		SMTPUser:             getEnvOrDefault("SMTP_USER", ""),
		SMTPPass:             getEnvOrDefault("SMTP_PASS", ""),
		SMTPFrom:             getEnvOrDefault("SMTP_FROM", "noreply@gua.chat"),
		MailWorkers:          getEnvAsIntOrDefault("MAIL_WORKERS", 2),
		FrontendURL:          getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

// CompletionAPIKey returns the secret for the selected completion provider.
// An empty result is reported by the completion proxy as a configuration
// error, not here.
func (c *Config) CompletionAPIKey() string {
	if c.CompletionProvider == "gemini" {
		return c.GeminiAPIKey
	}
	return c.DeepSeekAPIKey
}

// CompletionAPIKeyName is the environment variable behind CompletionAPIKey.
func (c *Config) CompletionAPIKeyName() string {
	if c.CompletionProvider == "gemini" {
		return "GEMINI_API_KEY"
	}
	return "DEEPSEEK_API_KEY"
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
