// Package config loads service configuration from the environment.
//
// Recognized variables:
//
//	AUTH_ADDR              HTTP listen address (default :8081)
//	AUTH_DB_URL            PostgreSQL DSN; empty selects the in-memory store
//	AUTH_REDIS_ADDR        Redis address for the shared rate limiter; empty selects in-memory
//	AUTH_SIGNING_KEYS      comma-separated kid:hex pairs, e.g. "k2:abcd...,k1:beef..."
//	AUTH_ACTIVE_KID        key id used for new signatures
//	AUTH_TOTP_ISSUER       issuer name in provisioning URIs
//	AUTH_SESSION_MAX_AGE   token lifetime (default 720h)
//	AUTH_SESSION_SLIDE     sliding re-issue interval (default 24h)
//	AUTH_RATE_WINDOW       rolling failure window (default 15m)
//	AUTH_RATE_THRESHOLD    failures allowed per window (default 6)
//	AUTH_DEVICE_GRACE      challenge-exempt window for new devices (default 24h)
//	AUTH_COOKIE_SECURE     "true" outside local development
//
// A .env file in the working directory is loaded first when present.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service settings.
type Config struct {
	Addr      string
	DBURL     string
	RedisAddr string

	SigningKeys map[string][]byte
	ActiveKID   string

	TOTPIssuer    string
	SessionMaxAge time.Duration
	SessionSlide  time.Duration
	RateWindow    time.Duration
	RateThreshold int
	DeviceGrace   time.Duration
	CookieSecure  bool
}

// Load reads configuration from the environment. Absent or malformed
// signing key material is an error: the service must refuse to start
// rather than issue unsigned or weakly-signed tokens.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional

	cfg := &Config{
		Addr:          getenv("AUTH_ADDR", ":8081"),
		DBURL:         os.Getenv("AUTH_DB_URL"),
		RedisAddr:     os.Getenv("AUTH_REDIS_ADDR"),
		ActiveKID:     os.Getenv("AUTH_ACTIVE_KID"),
		TOTPIssuer:    getenv("AUTH_TOTP_ISSUER", "x-auth"),
		CookieSecure:  os.Getenv("AUTH_COOKIE_SECURE") == "true",
		RateThreshold: 6,
	}

	keys, err := parseSigningKeys(os.Getenv("AUTH_SIGNING_KEYS"))
	if err != nil {
		return nil, err
	}
	cfg.SigningKeys = keys
	if cfg.ActiveKID == "" {
		return nil, errors.New("config: AUTH_ACTIVE_KID is required")
	}
	if _, ok := keys[cfg.ActiveKID]; !ok {
		return nil, fmt.Errorf("config: AUTH_ACTIVE_KID %q not present in AUTH_SIGNING_KEYS", cfg.ActiveKID)
	}

	if cfg.SessionMaxAge, err = getduration("AUTH_SESSION_MAX_AGE", 720*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SessionSlide, err = getduration("AUTH_SESSION_SLIDE", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RateWindow, err = getduration("AUTH_RATE_WINDOW", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DeviceGrace, err = getduration("AUTH_DEVICE_GRACE", 24*time.Hour); err != nil {
		return nil, err
	}
	if v := os.Getenv("AUTH_RATE_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("config: AUTH_RATE_THRESHOLD %q is not a positive integer", v)
		}
		cfg.RateThreshold = n
	}

	return cfg, nil
}

// parseSigningKeys decodes "kid:hex,kid:hex" into the key set.
func parseSigningKeys(raw string) (map[string][]byte, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("config: AUTH_SIGNING_KEYS is required")
	}
	keys := make(map[string][]byte)
	for _, pair := range strings.Split(raw, ",") {
		kid, hexKey, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || kid == "" {
			return nil, fmt.Errorf("config: malformed signing key entry %q", pair)
		}
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("config: signing key %q is not hex: %w", kid, err)
		}
		if len(key) < 32 {
			return nil, fmt.Errorf("config: signing key %q shorter than 32 bytes", kid)
		}
		keys[kid] = key
	}
	return keys, nil
}

func getenv(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func getduration(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: %s %q is not a positive duration", name, v)
	}
	return d, nil
}
