package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	breakerCooldown  = 30 * time.Second
	redisDialTimeout = 2 * time.Second
)

// SettingsProvider supplies the current settings.
type SettingsProvider func() SettingsConfig

// RedisClientFactory dials a Redis client.
type RedisClientFactory func(options *redis.Options) *redis.Client

type redisTarget struct {
	addr     string
	password string
	prefix   string
	db       int
}

func targetOf(cfg SettingsConfig) redisTarget {
	t := redisTarget{
		addr:     strings.TrimSpace(cfg.RedisAddr),
		password: strings.TrimSpace(cfg.RedisPassword),
		prefix:   strings.TrimSpace(cfg.RedisPrefix),
		db:       cfg.RedisDB,
	}
	if t.db < 0 {
		t.db = 0
	}
	if t.prefix == "" {
		t.prefix = defaultRedisPrefix
	}
	return t
}

// Manager counts requests in Redis when it is enabled and reachable, and in
// process memory otherwise. A Redis failure opens a breaker for
// breakerCooldown during which Redis is not tried.
type Manager struct {
	settings SettingsProvider
	now      func() time.Time
	dial     RedisClientFactory
	local    Limiter

	mu        sync.Mutex
	remote    *RedisLimiter
	remoteFor redisTarget
	openUntil time.Time
}

// NewManager constructs a Manager. Nil arguments select defaults.
func NewManager(settings SettingsProvider, now func() time.Time, dial RedisClientFactory) *Manager {
	if settings == nil {
		settings = StaticSettings(SettingsConfig{})
	}
	if now == nil {
		now = time.Now
	}
	if dial == nil {
		dial = redis.NewClient
	}
	return &Manager{settings: settings, now: now, dial: dial, local: NewMemoryLimiter()}
}

// Settings returns the current settings.
func (m *Manager) Settings() SettingsConfig {
	if m == nil || m.settings == nil {
		return SettingsConfig{}
	}
	return m.settings()
}

// Close releases the Redis client, if one was dialed.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropRemoteLocked()
}

// Allow counts one request against d for key.
func (m *Manager) Allow(ctx context.Context, key string, d Decision) (Result, error) {
	if m == nil || key == "" || d.Limit <= 0 {
		return allowAll(), nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := m.now()
	if cfg := m.Settings(); cfg.RedisEnabled {
		if remote := m.redisLimiter(ctx, cfg, now); remote != nil {
			res, errRemote := remote.Allow(ctx, key, d.Limit, d.Window, now)
			if errRemote == nil {
				return res, nil
			}
			m.mu.Lock()
			m.openLocked(errRemote, now)
			m.mu.Unlock()
		}
	}
	return m.local.Allow(ctx, key, d.Limit, d.Window, now)
}

// redisLimiter returns the Redis limiter for cfg, dialing on first use and
// whenever the target changes. It returns nil while the breaker is open.
func (m *Manager) redisLimiter(ctx context.Context, cfg SettingsConfig, now time.Time) *RedisLimiter {
	target := targetOf(cfg)
	if target.addr == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Before(m.openUntil) {
		return nil
	}
	if m.remote != nil && m.remoteFor == target {
		return m.remote
	}
	_ = m.dropRemoteLocked()

	client := m.dial(&redis.Options{Addr: target.addr, Password: target.password, DB: target.db})
	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		_ = client.Close()
		m.openLocked(errPing, now)
		return nil
	}
	m.remote = NewRedisLimiter(client, target.prefix)
	m.remoteFor = target
	return m.remote
}

func (m *Manager) openLocked(err error, now time.Time) {
	if now.Before(m.openUntil) {
		return
	}
	m.openUntil = now.Add(breakerCooldown)
	log.WithError(err).Warnf("rate limit: redis unavailable, using in-process counters for %s", breakerCooldown)
}

func (m *Manager) breakerOpen(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return now.Before(m.openUntil)
}

func (m *Manager) dropRemoteLocked() error {
	if m.remote == nil {
		return nil
	}
	errClose := m.remote.client.Close()
	m.remote = nil
	m.remoteFor = redisTarget{}
	return errClose
}
