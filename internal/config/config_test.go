package config

import (
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATA_STORE", "memory")
	t.Setenv("PORT", "8080")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_SECRET_FILE", "")
	t.Setenv("DATABASE_URL_FILE", "")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Environment != "development" {
		t.Fatalf("unexpected environment %q", cfg.Environment)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("unexpected access token TTL %v", cfg.AccessTokenTTL)
	}
	if cfg.SessionTTL != 12*time.Hour {
		t.Fatalf("unexpected session TTL %v", cfg.SessionTTL)
	}
	if cfg.InactivityTimeout != 30*time.Minute || cfg.InactivityWarning != 5*time.Minute {
		t.Fatalf("unexpected inactivity settings %v %v", cfg.InactivityTimeout, cfg.InactivityWarning)
	}
	if !cfg.UseInMemoryStore() {
		t.Fatal("expected memory store by default")
	}
	if cfg.GoogleEnabled() {
		t.Fatal("expected Google sign-in disabled without credentials")
	}
}

func TestLoadParsesDurations(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("INACTIVITY_TIMEOUT", "1h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.AccessTokenTTL != 5*time.Minute {
		t.Fatalf("unexpected access token TTL %v", cfg.AccessTokenTTL)
	}
	if cfg.InactivityTimeout != time.Hour {
		t.Fatalf("unexpected inactivity timeout %v", cfg.InactivityTimeout)
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SESSION_TTL", "twelve hours")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestLoadRequiresSecretOutsideDevelopment(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APP_ENV", "production")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when JWT_SECRET missing outside development")
	}
	if !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRequiresDatabaseForPostgresStore(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DATA_STORE", "postgres")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATA_STORE is postgres without DATABASE_URL")
	}
}

func TestLoadTrimsSiteURL(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SITE_URL", "https://gatehouse.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.SiteURL != "https://gatehouse.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.SiteURL)
	}
}

func TestLoadParsesBreachCheckFlag(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PASSWORD_BREACH_CHECK", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if !cfg.PasswordBreachCheck {
		t.Fatal("expected breach check enabled")
	}

	t.Setenv("PASSWORD_BREACH_CHECK", "maybe")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unparseable PASSWORD_BREACH_CHECK")
	}
}

func TestLoadGoogleEnabled(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("GOOGLE_CLIENT_ID", "client-id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "client-secret")
	t.Setenv("GOOGLE_REDIRECT_URL", "https://gatehouse.example.com/api/auth/google/callback")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if !cfg.GoogleEnabled() {
		t.Fatal("expected Google sign-in enabled")
	}
}
