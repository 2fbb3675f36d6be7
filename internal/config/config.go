// Package config loads application configuration from environment variables.
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

const prefix = "SHELFSYNC_"

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	SecretKey  []byte
	PublicURL  string

	Lightspeed LightspeedConfig
	Airtable   AirtableConfig

	PageDelay        time.Duration
	RateLimit        float64
	RateBurst        int
	FetchBackoffBase time.Duration
	FetchBackoffMax  time.Duration
	FetchMaxRetries  int
	WriteDelay       time.Duration
	WriteMaxRetries  int
	RunTimeout       time.Duration

	ShareSecret    []byte
	AdminToken     string
	AllowedOrigins []string
}

// LightspeedConfig holds the OAuth registration and API endpoints of the
// catalog provider.
type LightspeedConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	APIBase      string
	AuthURL      string
	TokenURL     string
	RefreshURL   string
	Scope        string
}

// AirtableConfig holds the destination endpoints and the deployment-wide
// fallback API key.
type AirtableConfig struct {
	APIBase string
	WebBase string
	APIKey  string
}

// HasOAuthClient reports whether a catalog provider client registration is
// configured. Without one the connect flow cannot start.
func (c *Config) HasOAuthClient() bool {
	return c.Lightspeed.ClientID != "" && c.Lightspeed.ClientSecret != ""
}

// Load reads configuration from environment variables and returns a validated
// Config. A .env file (or the file named by SHELFSYNC_ENV_FILE) is read first
// when present; variables already set in the environment win.
//
// SHELFSYNC_SECRET_KEY is required: 64 hex characters encoding the 32-byte key
// that seals tokens and API keys at rest. SHELFSYNC_SHARE_SECRET defaults to
// the same key.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	l := &loader{}
	cfg := &Config{
		ListenAddr: l.str("LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:     l.str("DB_PATH", "shelfsync.db"),
		PublicURL:  strings.TrimRight(l.str("PUBLIC_URL", "http://127.0.0.1:8080"), "/"),
		Lightspeed: LightspeedConfig{
			ClientID:     l.str("LIGHTSPEED_CLIENT_ID", ""),
			ClientSecret: l.str("LIGHTSPEED_CLIENT_SECRET", ""),
			RedirectURI:  l.str("LIGHTSPEED_REDIRECT_URI", ""),
			APIBase:      l.str("LIGHTSPEED_API_BASE", "https://api.lightspeedapp.com/API/V3/Account"),
			AuthURL:      l.str("LIGHTSPEED_AUTH_URL", "https://cloud.lightspeedapp.com/oauth/authorize.php"),
			TokenURL:     l.str("LIGHTSPEED_TOKEN_URL", "https://cloud.lightspeedapp.com/oauth/access_token.php"),
			RefreshURL:   l.str("LIGHTSPEED_REFRESH_URL", "https://cloud.lightspeedapp.com/auth/oauth/token"),
			Scope:        l.str("LIGHTSPEED_SCOPE", "employee:all"),
		},
		Airtable: AirtableConfig{
			APIBase: l.str("AIRTABLE_API_BASE", "https://api.airtable.com/v0"),
			WebBase: l.str("AIRTABLE_WEB_BASE", "https://airtable.com"),
			APIKey:  l.str("AIRTABLE_API_KEY", ""),
		},
		PageDelay:        l.duration("PAGE_DELAY", 100*time.Millisecond),
		RateLimit:        l.float("RATE_LIMIT", 1),
		RateBurst:        l.integer("RATE_BURST", 10),
		FetchBackoffBase: l.duration("FETCH_BACKOFF_BASE", time.Second),
		FetchBackoffMax:  l.duration("FETCH_BACKOFF_MAX", 30*time.Second),
		FetchMaxRetries:  l.integer("FETCH_MAX_RETRIES", 3),
		WriteDelay:       l.duration("WRITE_DELAY", 180*time.Millisecond),
		WriteMaxRetries:  l.integer("WRITE_MAX_RETRIES", 3),
		RunTimeout:       l.duration("RUN_TIMEOUT", 15*time.Minute),
		AdminToken:       l.str("ADMIN_TOKEN", ""),
		AllowedOrigins:   l.list("ALLOWED_ORIGINS"),
	}

	cfg.SecretKey = l.secretKey()
	cfg.ShareSecret = cfg.SecretKey
	if v := l.str("SHARE_SECRET", ""); v != "" {
		cfg.ShareSecret = []byte(v)
	}

	if len(l.errs) > 0 {
		return nil, errors.Join(l.errs...)
	}
	return cfg, nil
}

func loadDotEnv() error {
	path := ".env"
	if v, ok := os.LookupEnv(prefix + "ENV_FILE"); ok && v != "" {
		path = v
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// loader collects every invalid value so a misconfigured deployment sees all
// of its problems at once.
type loader struct {
	errs []error
}

func (l *loader) str(key, def string) string {
	if v, ok := os.LookupEnv(prefix + key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(prefix + key)
	if !ok || v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s%s has invalid duration %q: %w", prefix, key, v, err))
		return def
	}
	if parsed < 0 {
		l.errs = append(l.errs, fmt.Errorf("%s%s must not be negative, got %s", prefix, key, v))
		return def
	}
	return parsed
}

func (l *loader) integer(key string, def int) int {
	v, ok := os.LookupEnv(prefix + key)
	if !ok || v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < 0 {
		l.errs = append(l.errs, fmt.Errorf("%s%s must be a non-negative integer, got %q", prefix, key, v))
		return def
	}
	return parsed
}

func (l *loader) float(key string, def float64) float64 {
	v, ok := os.LookupEnv(prefix + key)
	if !ok || v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil || parsed <= 0 {
		l.errs = append(l.errs, fmt.Errorf("%s%s must be a positive number, got %q", prefix, key, v))
		return def
	}
	return parsed
}

func (l *loader) list(key string) []string {
	out := []string{}
	v, ok := os.LookupEnv(prefix + key)
	if !ok {
		return out
	}
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (l *loader) secretKey() []byte {
	v := l.str("SECRET_KEY", "")
	if v == "" {
		l.errs = append(l.errs, errors.New(prefix+"SECRET_KEY is required (64 hex characters)"))
		return nil
	}
	key, err := hex.DecodeString(v)
	if err != nil || len(key) != 32 {
		l.errs = append(l.errs, fmt.Errorf("%sSECRET_KEY must be 64 hex characters encoding 32 bytes", prefix))
		return nil
	}
	return key
}
