package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"
	StoreDriverRedis    = "redis"
	StoreDriverMemory   = "memory"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv                string
	Port                  string
	StoreDriver           string
	StorePath             string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	RedisKey              string
	BlobPath              string
	GeoIPDBPath           string
	DefaultLocale         string
	GeminiAPIKey          string
	GeminiModel           string
	GeminiValidationModel string
	GeminiBaseURL         string
	TryOnTimeout          time.Duration
	AvatarTimeout         time.Duration
	WardrobeFetchMaxBytes int64
	CORSAllowedOrigins    []string
	StartRateLimit        int
	HTTPReadTimeout       time.Duration
	HTTPWriteTimeout      time.Duration
	HTTPIdleTimeout       time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	dataDir := getEnv("DATA_DIR", "./data")
	cfg := &Config{
		AppEnv:                getEnv("APP_ENV", "development"),
		Port:                  getEnv("PORT", "8787"),
		StoreDriver:           strings.ToLower(getEnv("STORE_DRIVER", StoreDriverSQLite)),
		StorePath:             getEnv("STORE_PATH", filepath.Join(dataDir, "closet.db")),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		RedisKey:              getEnv("REDIS_KEY", "closet:state"),
		BlobPath:              getEnv("BLOB_PATH", filepath.Join(dataDir, "blobs")),
		GeoIPDBPath:           os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale:         getEnv("DEFAULT_LOCALE", "en"),
		GeminiAPIKey:          os.Getenv("GEMINI_API_KEY"),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		GeminiValidationModel: getEnv("GEMINI_VALIDATION_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL:         getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		TryOnTimeout:          time.Second * time.Duration(getEnvInt("TRYON_TIMEOUT_SECONDS", 300)),
		AvatarTimeout:         time.Second * time.Duration(getEnvInt("AVATAR_TIMEOUT_SECONDS", 300)),
		WardrobeFetchMaxBytes: int64(getEnvInt("WARDROBE_FETCH_MAX_BYTES", 15<<20)),
		CORSAllowedOrigins:    splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		StartRateLimit:        getEnvInt("START_RATE_LIMIT_PER_MINUTE", 30),
		HTTPReadTimeout:       time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout:      time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout:       time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	switch cfg.StoreDriver {
	case StoreDriverSQLite, StoreDriverRedis, StoreDriverMemory:
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.TryOnTimeout <= 0 || cfg.AvatarTimeout <= 0 {
		return nil, fmt.Errorf("job timeouts must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// splitList parses a comma separated list, trimming blanks and duplicates.
func splitList(raw string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	sort.Strings(out)
	return out
}
