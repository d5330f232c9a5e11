package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the dashboard core.
type Config struct {
	Port string

	// Database
	DBBackend        string // "sqlite" (default) or "postgres"
	DBPath           string
	DatabaseURL      string
	DBPoolMax        int
	DBIdleTimeout    time.Duration
	DBConnectTimeout time.Duration
	DBMaxRetries     int
	DBRetryBase      time.Duration

	// Logging / tracing
	LogLevel       string
	LogFormat      string // "json" or "console"
	TracingEnabled bool

	// API
	APIRateLimit float64 // requests per second per client IP
	APIRateBurst int
	CORSOrigins  []string
	CacheTTL     time.Duration // tree/aggregate response cache; 0 disables

	// Settings catalog override (YAML); empty uses the built-in catalog.
	SettingsCatalog string

	// Health monitor
	MonitorInterval time.Duration
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/dashboard.db")
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DBBackend:        strings.ToLower(getEnv("DB_BACKEND", "sqlite")),
		DBPath:           dbPath,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DBPoolMax:        getEnvInt("DB_POOL_MAX", 10),
		DBIdleTimeout:    getEnvMillis("DB_IDLE_TIMEOUT_MS", 30000),
		DBConnectTimeout: getEnvMillis("DB_CONNECT_TIMEOUT_MS", 10000),
		DBMaxRetries:     getEnvInt("DB_MAX_RETRIES", 3),
		DBRetryBase:      getEnvMillis("DB_RETRY_BASE_MS", 100),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", "json")),
		TracingEnabled:   getEnv("TRACING_ENABLED", "false") == "true",
		APIRateLimit:     getEnvFloat("API_RATE_LIMIT", 20),
		APIRateBurst:     getEnvInt("API_RATE_BURST", 40),
		CORSOrigins:      splitAndTrim(getEnv("CORS_ORIGINS", "*")),
		CacheTTL:         getEnvMillis("RESPONSE_CACHE_TTL_MS", 2000),
		SettingsCatalog:  getEnv("SETTINGS_CATALOG", ""),
		MonitorInterval:  getEnvMillis("MONITOR_INTERVAL_MS", 30000),
	}

	// A DATABASE_URL alone is enough to select the networked backend.
	if os.Getenv("DB_BACKEND") == "" && cfg.DatabaseURL != "" {
		cfg.DBBackend = "postgres"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.DBBackend {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite backend")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("DB_BACKEND must be sqlite or postgres, got %q", c.DBBackend)
	}
	if c.DBPoolMax <= 0 {
		return fmt.Errorf("DB_POOL_MAX must be positive, got %d", c.DBPoolMax)
	}
	if c.DBMaxRetries < 0 {
		return fmt.Errorf("DB_MAX_RETRIES must not be negative, got %d", c.DBMaxRetries)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvMillis(key string, defMs int) time.Duration {
	return time.Duration(getEnvInt(key, defMs)) * time.Millisecond
}
