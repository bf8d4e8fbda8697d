// Package config loads and validates all environment variables at startup.
// Every other package receives typed values — nothing reads os.Getenv directly.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the fully-parsed application configuration.
type Config struct {
	// ── Server ────────────────────────────────────────────────────────────────
	Port    string // default "8080"
	Env     string // "development" | "staging" | "production"
	BaseURL string // storefront base, e.g. "https://shop.example.com"

	// ── Database (optional) ───────────────────────────────────────────────────
	// When empty the webhook event journal is disabled; the server still runs.
	DatabaseURL string

	// ── Stripe ────────────────────────────────────────────────────────────────
	StripeSecretKey     string
	StripeWebhookSecret string

	// ── Printful ──────────────────────────────────────────────────────────────
	PrintfulAPIKey  string
	PrintfulBaseURL string // default "https://api.printful.com"

	// ── Checkout ──────────────────────────────────────────────────────────────
	ShippingCents int64  // flat shipping charge, default 500 ($5.00)
	Currency      string // default "usd"

	// ── Catalog sync ──────────────────────────────────────────────────────────
	// SyncThrottle is the pause between mutating Stripe calls during a batch
	// run, to stay under the API rate limit.
	SyncThrottle time.Duration // default 250ms
}

// Load reads all environment variables and returns a validated Config.
// It automatically loads a .env file from the working directory when present,
// so plain `go run ./cmd/api` works in development without any wrapper.
// Real environment variables always take precedence over .env values.
func Load() (*Config, error) {
	loadDotEnv(".env")

	c := &Config{
		Port:                getEnv("PORT", "8080"),
		Env:                 getEnv("ENV", "development"),
		BaseURL:             getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PrintfulAPIKey:      os.Getenv("PRINTFUL_API_KEY"),
		PrintfulBaseURL:     getEnv("PRINTFUL_BASE_URL", "https://api.printful.com"),
		ShippingCents:       int64(getEnvAsInt("SHIPPING_CENTS", 500)),
		Currency:            getEnv("CURRENCY", "usd"),
		SyncThrottle:        getEnvAsDuration("SYNC_THROTTLE", 250*time.Millisecond),
	}

	return c, c.validate()
}

// validate checks the credentials every binary needs. The api server
// additionally calls RequireWebhookSecret before serving.
func (c *Config) validate() error {
	var errs []error

	required := map[string]string{
		"STRIPE_SECRET_KEY": c.StripeSecretKey,
		"PRINTFUL_API_KEY":  c.PrintfulAPIKey,
	}

	for name, val := range required {
		if val == "" {
			errs = append(errs, fmt.Errorf("missing required env var: %s", name))
		}
	}

	return errors.Join(errs...)
}

// RequireWebhookSecret fails when STRIPE_WEBHOOK_SECRET is unset. The batch
// CLI never verifies signatures, so only cmd/api calls this.
func (c *Config) RequireWebhookSecret() error {
	if c.StripeWebhookSecret == "" {
		return errors.New("missing required env var: STRIPE_WEBHOOK_SECRET")
	}
	return nil
}

// ─── DOT-ENV LOADER ──────────────────────────────────────────────────────────

// loadDotEnv reads key=value pairs from path and sets them in the environment,
// but only for keys that are not already set. This means real env vars (e.g.
// from Docker / Railway / your shell) always win over the file.
// Missing file, blank lines, and #-comments are all silently ignored.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return // file absent — that's fine
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		// Strip optional surrounding quotes: KEY="value" or KEY='value'
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		// Only set if the key isn't already present in the environment.
		if os.Getenv(key) == "" {
			_ = os.Setenv(key, value)
		}
	}
}

// ─── HELPERS ─────────────────────────────────────────────────────────────────

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	// Plain integers are treated as milliseconds: SYNC_THROTTLE=250.
	if value, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(value) * time.Millisecond
	}
	// Fall back to Go duration syntax: "250ms", "1s", etc.
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	return defaultValue
}
