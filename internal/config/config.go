package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates runtime configuration for the Gatehouse services.
type Config struct {
	Environment    string
	HTTPPort       int
	DatabaseURL    string
	DataStore      string
	LogLevel       string
	AllowedOrigins []string
	SiteURL        string

	JWTSecret           string
	PasswordBreachCheck bool
	AccessTokenTTL      time.Duration
	SessionTTL          time.Duration
	ConfirmationTTL     time.Duration
	InactivityTimeout   time.Duration
	InactivityWarning   time.Duration
	SessionMaxAge       time.Duration

	SMTPAddr     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
}

// Load reads configuration from environment variables with sensible defaults for local development.
func Load() (Config, error) {
	databaseURL, err := getEnvOrFile("DATABASE_URL", "/run/secrets/gatehouse_database_url")
	if err != nil {
		return Config{}, err
	}

	jwtSecret, err := getEnvOrFile("JWT_SECRET", "/run/secrets/gatehouse_jwt_secret")
	if err != nil {
		return Config{}, err
	}

	smtpPassword, err := getEnvOrFile("SMTP_PASSWORD", "")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment:    getEnv("APP_ENV", "development"),
		DatabaseURL:    databaseURL,
		DataStore:      strings.ToLower(getEnv("DATA_STORE", "memory")),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		AllowedOrigins: parseCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:4200,http://localhost:8080")),
		SiteURL:        strings.TrimSuffix(getEnv("SITE_URL", "http://localhost:8080"), "/"),
		JWTSecret:      strings.TrimSpace(jwtSecret),

		SMTPAddr:     getEnv("SMTP_ADDR", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "no-reply@localhost"),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: smtpPassword,

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
	}

	breachCheckValue := getEnv("PASSWORD_BREACH_CHECK", "false")
	breachCheck, err := strconv.ParseBool(breachCheckValue)
	if err != nil {
		return Config{}, fmt.Errorf("invalid PASSWORD_BREACH_CHECK %q: %w", breachCheckValue, err)
	}
	cfg.PasswordBreachCheck = breachCheck

	portValue := getEnv("PORT", getEnv("HTTP_PORT", "8080"))
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return Config{}, fmt.Errorf("invalid port %q: %w", portValue, err)
	}
	cfg.HTTPPort = port

	durations := []struct {
		target   *time.Duration
		key      string
		fallback time.Duration
	}{
		{&cfg.AccessTokenTTL, "ACCESS_TOKEN_TTL", 15 * time.Minute},
		{&cfg.SessionTTL, "SESSION_TTL", 12 * time.Hour},
		{&cfg.ConfirmationTTL, "CONFIRMATION_TTL", 24 * time.Hour},
		{&cfg.InactivityTimeout, "INACTIVITY_TIMEOUT", 30 * time.Minute},
		{&cfg.InactivityWarning, "INACTIVITY_WARNING", 5 * time.Minute},
		{&cfg.SessionMaxAge, "SESSION_MAX_AGE", 12 * time.Hour},
	}
	for _, d := range durations {
		value, err := getDuration(d.key, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.target = value
	}

	if cfg.DataStore == "postgres" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATA_STORE is postgres but DATABASE_URL is not set")
	}
	if cfg.JWTSecret == "" && !strings.EqualFold(cfg.Environment, "development") {
		return Config{}, fmt.Errorf("JWT_SECRET is required outside development")
	}

	return cfg, nil
}

// HTTPAddress returns the address the HTTP server should bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// UseInMemoryStore returns true if the in-memory repositories should be used.
func (c Config) UseInMemoryStore() bool {
	return c.DataStore == "memory"
}

// GoogleEnabled reports whether the Google sign-in flow is configured.
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return parsed, nil
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrFile(key, defaultPath string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}

	fileKey := key + "_FILE"
	if path := os.Getenv(fileKey); path != "" {
		return readSecret(path, fileKey)
	}

	if defaultPath != "" {
		return readSecret(defaultPath, key)
	}

	return "", nil
}

func readSecret(path, name string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: reading %s (%s): %w", name, path, err)
	}

	value := strings.TrimSpace(string(contents))
	if value == "" {
		return "", fmt.Errorf("config: %s (%s) is empty", name, path)
	}
	return value, nil
}
