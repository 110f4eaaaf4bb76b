package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var hexKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// Config contains runtime configuration values.
type Config struct {
	Environment          string
	HTTPPort             string
	ServiceName          string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	CacheEncryptionKey   string
	TokenTTL             time.Duration
	IDPBaseURL           string
	IDPAPIKey            string
	HostAPIURL           string
	HostClientID         string
	HostClientSecret     string
	SiteURL              string
	LandingPath          string
	RateLimitRPM         int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
// Secrets that guard credential material are hard requirements.
func Load() (Config, error) {
	_ = godotenv.Load()

	encryptionKey := strings.TrimSpace(os.Getenv("CACHE_ENCRYPTION_KEY"))
	if encryptionKey == "" {
		return Config{}, fmt.Errorf("CACHE_ENCRYPTION_KEY is required")
	}
	if !hexKeyPattern.MatchString(encryptionKey) {
		return Config{}, fmt.Errorf("CACHE_ENCRYPTION_KEY must be a 64-character hex string")
	}

	idpBaseURL := strings.TrimSpace(os.Getenv("IDP_BASE_URL"))
	if idpBaseURL == "" {
		return Config{}, fmt.Errorf("IDP_BASE_URL is required")
	}

	// Redirects are always built from this trusted base, never from
	// forwarded host headers, to keep open-redirect off the table.
	siteURL := strings.TrimSpace(os.Getenv("SITE_URL"))
	if siteURL == "" {
		return Config{}, fmt.Errorf("SITE_URL is required")
	}
	if _, err := url.ParseRequestURI(siteURL); err != nil {
		return Config{}, fmt.Errorf("SITE_URL must be an absolute URL: %w", err)
	}

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		ServiceName:          getEnv("SERVICE_NAME", "relay-auth"),
		RedisAddr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		CacheEncryptionKey:   encryptionKey,
		TokenTTL:             getDuration("TOKEN_TTL", time.Hour),
		IDPBaseURL:           strings.TrimRight(idpBaseURL, "/"),
		IDPAPIKey:            os.Getenv("IDP_API_KEY"),
		HostAPIURL:           strings.TrimRight(getEnv("HOST_API_URL", "https://api.zoom.us"), "/"),
		HostClientID:         os.Getenv("HOST_CLIENT_ID"),
		HostClientSecret:     os.Getenv("HOST_CLIENT_SECRET"),
		SiteURL:              strings.TrimRight(siteURL, "/"),
		LandingPath:          getEnv("LANDING_PATH", "/dashboard"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "DELETE", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	if !strings.HasPrefix(cfg.LandingPath, "/") {
		cfg.LandingPath = "/" + cfg.LandingPath
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
