package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendSQL   = "sql"
	BackendRedis = "redis"

	DefaultAdminPassword = "admin123"
)

var (
	ErrMissingDatabaseDSN = errors.New("DB_DSN is required")
	ErrMissingRedisAddr   = errors.New("REDIS_ADDR is required when STORE_BACKEND=redis")
	ErrMissingMasterKey   = errors.New("at least one master key is required")
	ErrInvalidBackend     = errors.New("STORE_BACKEND must be 'sql' or 'redis'")
)

type Config struct {
	Backend string

	HTTP     HTTPConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Chat     ChatConfig
	Outbound OutboundConfig
	Rate     RateConfig
	Cache    CacheConfig
	Crypto   CryptoConfig
	Log      LogConfig
}

type HTTPConfig struct {
	ListenAddr        string
	HealthPath        string
	MetricsPath       string
	TrustProxyHeaders bool
}

type DBConfig struct {
	Driver        string
	DSN           string
	AutoMigrate   bool
	MigrationsDir string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type AuthConfig struct {
	AdminInitPassword    string
	// EnableGlobalAuth is the fallback for an unset stored toggle.
	EnableGlobalAuth     bool
	StoreFailurePolicy   string
	SessionSecret        []byte
	SessionSecretDefault bool
	SessionTTL           time.Duration
	CookieSecure         bool
}

type ChatConfig struct {
	MaxDuration time.Duration
}

type OutboundConfig struct {
	ClientTimeout time.Duration
	AppURL        string
	AppName       string
}

type RateConfig struct {
	LoginPerHour int64
}

type CacheConfig struct {
	SettingsTTL time.Duration
}

type CryptoConfig struct {
	CurrentKeyID string
	Keys         map[string][]byte
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Backend: strings.ToLower(mustEnv("STORE_BACKEND", BackendSQL)),
		HTTP: HTTPConfig{
			ListenAddr:        mustEnv("LISTEN_ADDR", ":8080"),
			HealthPath:        mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath:       mustEnv("METRICS_PATH", "/metrics"),
			TrustProxyHeaders: mustBool("TRUST_PROXY_HEADERS", false),
		},
		DB: DBConfig{
			Driver:        strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:           mustEnv("DB_DSN", "file:aichat.db?_pragma=busy_timeout(5000)"),
			AutoMigrate:   mustBool("AUTO_MIGRATE", true),
			MigrationsDir: mustEnv("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     mustEnv("REDIS_ADDR", ""),
			Password: mustEnv("REDIS_PASSWORD", ""),
			DB:       mustInt("REDIS_DB", 0),
			Prefix:   mustEnv("REDIS_PREFIX", ""),
		},
		Auth: AuthConfig{
			AdminInitPassword:  mustEnv("ADMIN_INIT_PASSWORD", DefaultAdminPassword),
			EnableGlobalAuth:   mustEnv("ENABLE_GLOBAL_AUTH", "") == "true",
			StoreFailurePolicy: strings.ToLower(mustEnv("GATE_STORE_FAILURE_POLICY", "open")),
			SessionTTL:         mustDuration("SESSION_TTL", 7*24*time.Hour),
			CookieSecure:       mustBool("COOKIE_SECURE", false),
		},
		Chat: ChatConfig{
			MaxDuration: mustDuration("CHAT_MAX_DURATION", 60*time.Second),
		},
		Outbound: OutboundConfig{
			ClientTimeout: mustDuration("HTTP_TIMEOUT", 0),
			AppURL:        mustEnv("APP_URL", ""),
			AppName:       mustEnv("APP_NAME", "aichat"),
		},
		Rate: RateConfig{
			LoginPerHour: mustInt64("LOGIN_RATE_LIMIT_PER_HOUR", 20),
		},
		Cache: CacheConfig{
			SettingsTTL: mustDuration("SETTINGS_CACHE_TTL", 0),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	switch cfg.Backend {
	case BackendSQL:
		if cfg.DB.DSN == "" {
			return nil, ErrMissingDatabaseDSN
		}
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return nil, ErrMissingRedisAddr
		}
	default:
		return nil, ErrInvalidBackend
	}

	if secret := mustEnv("SESSION_SECRET", ""); secret != "" {
		cfg.Auth.SessionSecret = []byte(secret)
	} else {
		cfg.Auth.SessionSecretDefault = true
	}

	cc, err := loadCryptoConfig()
	if err != nil {
		return nil, err
	}
	cfg.Crypto = cc

	return cfg, nil
}

func loadCryptoConfig() (CryptoConfig, error) {
	keysB64 := map[string]string{}

	if raw := mustEnv("MASTER_KEYS_JSON", ""); raw != "" {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return CryptoConfig{}, fmt.Errorf("parse MASTER_KEYS_JSON: %w", err)
		}
		for id, val := range parsed {
			if strings.TrimSpace(id) == "" || strings.TrimSpace(val) == "" {
				continue
			}
			keysB64[id] = val
		}
	}

	for _, e := range os.Environ() {
		k, v, ok := strings.Cut(e, "=")
		if !ok || k == "MASTER_KEY_B64" {
			continue
		}
		if !strings.HasPrefix(k, "MASTER_KEY_") || !strings.HasSuffix(k, "_B64") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(k, "MASTER_KEY_"), "_B64")
		if id == "" || v == "" {
			continue
		}
		keysB64[id] = v
	}

	current := mustEnv("MASTER_KEY_CURRENT_ID", "")
	if singleton := mustEnv("MASTER_KEY_B64", ""); singleton != "" {
		if current == "" {
			current = "default"
		}
		keysB64[current] = singleton
	}

	if len(keysB64) == 0 {
		return CryptoConfig{}, ErrMissingMasterKey
	}

	keys := make(map[string][]byte, len(keysB64))
	for id, b64 := range keysB64 {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return CryptoConfig{}, fmt.Errorf("decode master key %q: %w", id, err)
		}
		if len(raw) != 32 {
			return CryptoConfig{}, fmt.Errorf("master key %q must be 32 bytes after base64 decode", id)
		}
		keys[id] = raw
	}

	if current == "" {
		if len(keys) > 1 {
			return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID is required when several master keys are set")
		}
		for id := range keys {
			current = id
		}
	}
	if _, ok := keys[current]; !ok {
		return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID=%q does not exist in provided keys", current)
	}

	return CryptoConfig{
		CurrentKeyID: current,
		Keys:         keys,
	}, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustInt64(key string, def int64) int64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
