package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath          = "CONFIG_PATH"
	EnvDBConnection        = "DB_CONNECTION"
	EnvJWTSecret           = "JWT_SECRET"
	EnvAuthHookSecret      = "AUTH_HOOK_SECRET"
	EnvStripeSecretKey     = "STRIPE_SECRET_KEY"
	EnvStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"
	EnvStripePriceBasic    = "STRIPE_PRICE_BASIC"
	EnvCronSecret          = "CRON_SECRET"
	EnvSendGridAPIKey      = "SENDGRID_API_KEY"
	EnvRedisAddr           = "REDIS_ADDR"
	EnvLogLevel            = "LOG_LEVEL"
	EnvSweepEnabled        = "SWEEP_ENABLED"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// IdentityConfig holds the settings used to verify identity provider tokens and events.
type IdentityConfig struct {
	Secret         string `yaml:"secret"`           // HS256 signing secret of the identity provider.
	Issuer         string `yaml:"issuer"`           // Expected iss claim; empty skips the check.
	Audience       string `yaml:"audience"`         // Expected aud claim; empty skips the check.
	AuthHookSecret string `yaml:"auth-hook-secret"` // Shared secret for signup/confirmation events.
}

// StripeConfig holds payment provider settings.
type StripeConfig struct {
	SecretKey       string        `yaml:"secret-key"`
	WebhookSecret   string        `yaml:"webhook-secret"`
	PriceBasic      string        `yaml:"price-basic"`       // Price charged on automatic conversion.
	DefaultPlan     string        `yaml:"default-plan"`      // Plan name recorded on conversion.
	SuccessURL      string        `yaml:"success-url"`       // Checkout success redirect.
	CancelURL       string        `yaml:"cancel-url"`        // Checkout cancel redirect.
	PortalReturnURL string        `yaml:"portal-return-url"` // Billing portal return URL.
	Timeout         time.Duration `yaml:"timeout"`           // Per-call timeout.
}

// TrialConfig holds trial policy and conversion sweep settings.
type TrialConfig struct {
	Duration         time.Duration `yaml:"duration"`
	Limit            int           `yaml:"limit"`
	SweepEnabled     *bool         `yaml:"sweep-enabled"`
	SweepSchedule    string        `yaml:"sweep-schedule"` // Cron expression or descriptor, e.g. @hourly.
	SweepWindow      time.Duration `yaml:"sweep-window"`
	SweepConcurrency int           `yaml:"sweep-concurrency"`
}

// CronConfig holds the shared secret for the external scheduler trigger.
type CronConfig struct {
	Secret string `yaml:"secret"`
}

// RateLimitConfig holds per-user API rate limit settings.
type RateLimitConfig struct {
	Limit         int           `yaml:"limit"`       // Requests per window per user; 0 disables.
	WriteLimit    int           `yaml:"write-limit"` // Mutating requests per window per user; 0 falls back to limit.
	Window        time.Duration `yaml:"window"`
	RedisEnabled  bool          `yaml:"redis-enabled"`
	RedisAddr     string        `yaml:"redis-addr"`
	RedisPassword string        `yaml:"redis-password"`
	RedisDB       int           `yaml:"redis-db"`
	RedisPrefix   string        `yaml:"redis-prefix"`
}

// EmailConfig holds transactional email settings.
type EmailConfig struct {
	FromEmail      string `yaml:"from-email"`
	FromName       string `yaml:"from-name"`
	SendGridAPIKey string `yaml:"sendgrid-api-key"` // Empty logs emails instead of sending.
	BaseURL        string `yaml:"base-url"`         // Front-end URL used in links.
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config is the full application configuration.
type Config struct {
	DatabaseDSN string `yaml:"database-dsn"`
	Database    struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	Identity  IdentityConfig  `yaml:"identity"`
	Stripe    StripeConfig    `yaml:"stripe"`
	Trial     TrialConfig     `yaml:"trial"`
	Cron      CronConfig      `yaml:"cron"`
	RateLimit RateLimitConfig `yaml:"rate-limit"`
	Email     EmailConfig     `yaml:"email"`
	Logging   LoggingConfig   `yaml:"logging"`
}

const (
	defaultTrialDuration    = 7 * 24 * time.Hour
	defaultTrialLimit       = 20
	defaultSweepSchedule    = "@hourly"
	defaultSweepWindow      = time.Hour
	defaultSweepConcurrency = 1
	defaultStripeTimeout    = 15 * time.Second
	defaultStripePlan       = "basic"
	defaultRedisPrefix      = "casedesk:rl"
	defaultRateWindow       = time.Second
	defaultFromName         = "CaseDesk"
	defaultLogLevel         = "info"
)

// DSN returns the configured database DSN.
func (c Config) DSN() string {
	if dsn := strings.TrimSpace(c.DatabaseDSN); dsn != "" {
		return dsn
	}
	return strings.TrimSpace(c.Database.DSN)
}

// IsSweepEnabled reports whether the in-process sweep scheduler should run.
func (c TrialConfig) IsSweepEnabled() bool {
	if c.SweepEnabled == nil {
		return true
	}
	return *c.SweepEnabled
}

// Load reads the YAML config file (if present), applies environment overrides and defaults.
func Load(configPath string) (Config, error) {
	var cfg Config

	data, errRead := os.ReadFile(configPath)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config file: %w", errRead)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if cfg.DSN() == "" {
		return Config{}, ErrMissingDatabaseDSN
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setFromEnv(&cfg.DatabaseDSN, EnvDBConnection)
	setFromEnv(&cfg.Identity.Secret, EnvJWTSecret)
	setFromEnv(&cfg.Identity.AuthHookSecret, EnvAuthHookSecret)
	setFromEnv(&cfg.Stripe.SecretKey, EnvStripeSecretKey)
	setFromEnv(&cfg.Stripe.WebhookSecret, EnvStripeWebhookSecret)
	setFromEnv(&cfg.Stripe.PriceBasic, EnvStripePriceBasic)
	setFromEnv(&cfg.Cron.Secret, EnvCronSecret)
	setFromEnv(&cfg.Email.SendGridAPIKey, EnvSendGridAPIKey)
	setFromEnv(&cfg.Logging.Level, EnvLogLevel)
	if enabled, ok := ParseBool(os.Getenv(EnvSweepEnabled)); ok {
		cfg.Trial.SweepEnabled = &enabled
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		cfg.RateLimit.RedisAddr = addr
		cfg.RateLimit.RedisEnabled = true
	}
}

func setFromEnv(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Trial.Duration <= 0 {
		cfg.Trial.Duration = defaultTrialDuration
	}
	if cfg.Trial.Limit <= 0 {
		cfg.Trial.Limit = defaultTrialLimit
	}
	if strings.TrimSpace(cfg.Trial.SweepSchedule) == "" {
		cfg.Trial.SweepSchedule = defaultSweepSchedule
	}
	if cfg.Trial.SweepWindow <= 0 {
		cfg.Trial.SweepWindow = defaultSweepWindow
	}
	if cfg.Trial.SweepConcurrency <= 0 {
		cfg.Trial.SweepConcurrency = defaultSweepConcurrency
	}
	if cfg.Stripe.Timeout <= 0 {
		cfg.Stripe.Timeout = defaultStripeTimeout
	}
	if strings.TrimSpace(cfg.Stripe.DefaultPlan) == "" {
		cfg.Stripe.DefaultPlan = defaultStripePlan
	}
	if cfg.RateLimit.Limit < 0 {
		cfg.RateLimit.Limit = 0
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = defaultRateWindow
	}
	if cfg.RateLimit.WriteLimit < 0 {
		cfg.RateLimit.WriteLimit = 0
	}
	if cfg.RateLimit.RedisDB < 0 {
		cfg.RateLimit.RedisDB = 0
	}
	cfg.RateLimit.RedisPrefix = strings.TrimSpace(cfg.RateLimit.RedisPrefix)
	if cfg.RateLimit.RedisPrefix == "" {
		cfg.RateLimit.RedisPrefix = defaultRedisPrefix
	}
	if strings.TrimSpace(cfg.Email.FromName) == "" {
		cfg.Email.FromName = defaultFromName
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = defaultLogLevel
	}
}

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// ParseBool parses common truthy and falsy spellings.
func ParseBool(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	}
	if n, errAtoi := strconv.Atoi(strings.TrimSpace(raw)); errAtoi == nil {
		return n != 0, true
	}
	return false, false
}
