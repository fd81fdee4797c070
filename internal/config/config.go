package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	AuthModeDevelopment = "development"
	AuthModeExternal    = "external"
	AuthModeSharedKey   = "shared_key"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	LogLevel    string   `mapstructure:"LOG_LEVEL"`
	AuthMode    string   `mapstructure:"AUTH_MODE"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	Migrations  string   `mapstructure:"MIGRATIONS_DIR"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`

	ClinicTimezone         string        `mapstructure:"CLINIC_TIMEZONE"`
	StrictWeeklyOverlap    bool          `mapstructure:"STRICT_WEEKLY_OVERLAP"`
	MeetingBaseURL         string        `mapstructure:"MEETING_BASE_URL"`
	MeetingGraceBefore     time.Duration `mapstructure:"MEETING_GRACE_BEFORE"`
	MeetingDefaultDuration time.Duration `mapstructure:"MEETING_DEFAULT_DURATION"`

	LockTTL  time.Duration `mapstructure:"LOCK_TTL"`
	LockWait time.Duration `mapstructure:"LOCK_WAIT"`

	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`

	WebhookURLs   []string `mapstructure:"WEBHOOK_URLS"`
	WebhookSecret string   `mapstructure:"WEBHOOK_SECRET"`
	WebhookEvents []string `mapstructure:"WEBHOOK_EVENTS"`

	NotificationsEnabled bool `mapstructure:"NOTIFICATIONS_ENABLED"`
	MetricsEnabled       bool `mapstructure:"METRICS_ENABLED"`
}

var defaults = map[string]interface{}{
	"PORT":                     "8000",
	"ENV":                      "development",
	"LOG_LEVEL":                "info",
	"AUTH_MODE":                "", // inferred, see ResolvedAuthMode
	"DB_MAX_CONNS":             20,
	"DB_MIN_CONNS":             5,
	"MIGRATIONS_DIR":           "migrations",
	"CORS_ORIGINS":             "http://localhost:3000",
	"RATE_LIMIT_RPS":           100,
	"RATE_LIMIT_BURST":         200,
	"REQUEST_TIMEOUT":          "30s",
	"BODY_LIMIT":               "1M",
	"CLINIC_TIMEZONE":          "UTC",
	"STRICT_WEEKLY_OVERLAP":    false,
	"MEETING_BASE_URL":         "https://meet.vetcare.local",
	"MEETING_GRACE_BEFORE":     "15m",
	"MEETING_DEFAULT_DURATION": "30m",
	"LOCK_TTL":                 "10s",
	"LOCK_WAIT":                "3s",
	"KAFKA_TOPIC":              "vetcare.appointments",
	"NOTIFICATIONS_ENABLED":    true,
	"METRICS_ENABLED":          true,
}

var envOnly = []string{
	"DATABASE_URL", "REDIS_URL", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL",
	"AUTH_SIGNING_KEY", "KAFKA_BROKERS", "WEBHOOK_URLS", "WEBHOOK_SECRET", "WEBHOOK_EVENTS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	for k, d := range defaults {
		v.SetDefault(k, d)
		_ = v.BindEnv(k)
	}
	for _, k := range envOnly {
		_ = v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)
	cfg.WebhookURLs = splitList(cfg.WebhookURLs)
	cfg.WebhookEvents = splitList(cfg.WebhookEvents)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

// splitList accepts both repeated values and a single comma-separated value.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise:
//   - ENV=development     -> "development" (identity from X-User-ID style headers)
//   - AUTH_SIGNING_KEY set -> "shared_key" (HS256 tokens)
//   - otherwise           -> "external" (RS256 via JWKS or OIDC discovery)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	if c.AuthSigningKey != "" {
		return AuthModeSharedKey
	}
	return AuthModeExternal
}

// Location resolves CLINIC_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case AuthModeDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE %q is not allowed in production", mode)
		}
	case AuthModeExternal:
		if c.AuthIssuer == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_ISSUER or AUTH_JWKS_URL must be set when AUTH_MODE is %q", mode)
		}
	case AuthModeSharedKey:
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q, %q or %q, got %q",
			AuthModeDevelopment, AuthModeExternal, AuthModeSharedKey, mode)
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	for name, d := range map[string]time.Duration{
		"REQUEST_TIMEOUT":          c.RequestTimeout,
		"MEETING_GRACE_BEFORE":     c.MeetingGraceBefore,
		"MEETING_DEFAULT_DURATION": c.MeetingDefaultDuration,
		"LOCK_TTL":                 c.LockTTL,
		"LOCK_WAIT":                c.LockWait,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.LockWait >= c.RequestTimeout {
		return fmt.Errorf("LOCK_WAIT (%s) must be shorter than REQUEST_TIMEOUT (%s)", c.LockWait, c.RequestTimeout)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}
