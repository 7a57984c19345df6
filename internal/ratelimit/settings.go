package ratelimit

import (
	"strings"
	"time"

	"github.com/casedesk/casedesk-api/internal/config"
)

const defaultRedisPrefix = "casedesk:rl"

// SettingsConfig captures the rate limit settings snapshot.
type SettingsConfig struct {
	Limit         int
	WriteLimit    int
	Window        time.Duration
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// SettingsFromConfig normalizes the configured rate limit section.
func SettingsFromConfig(rl config.RateLimitConfig) SettingsConfig {
	cfg := SettingsConfig{
		Limit:         rl.Limit,
		WriteLimit:    rl.WriteLimit,
		Window:        rl.Window,
		RedisEnabled:  rl.RedisEnabled,
		RedisAddr:     strings.TrimSpace(rl.RedisAddr),
		RedisPassword: strings.TrimSpace(rl.RedisPassword),
		RedisDB:       rl.RedisDB,
		RedisPrefix:   strings.TrimSpace(rl.RedisPrefix),
	}
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = defaultRedisPrefix
	}
	if cfg.RedisDB < 0 {
		cfg.RedisDB = 0
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.Limit < 0 {
		cfg.Limit = 0
	}
	if cfg.WriteLimit < 0 {
		cfg.WriteLimit = 0
	}
	return cfg
}

// StaticSettings returns a provider that always yields cfg.
func StaticSettings(cfg SettingsConfig) SettingsProvider {
	return func() SettingsConfig { return cfg }
}
