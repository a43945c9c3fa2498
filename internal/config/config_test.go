package config

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

func testKey(b byte) string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat(string(b), 32)))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MASTER_KEY_B64", testKey('a'))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendSQL || cfg.DB.Driver != "sqlite" {
		t.Fatalf("unexpected store defaults %+v %+v", cfg.Backend, cfg.DB)
	}
	if cfg.Auth.AdminInitPassword != DefaultAdminPassword {
		t.Fatalf("expected default admin password, got %q", cfg.Auth.AdminInitPassword)
	}
	if cfg.Auth.EnableGlobalAuth {
		t.Fatal("expected global auth fallback off by default")
	}
	if cfg.Auth.SessionTTL != 7*24*time.Hour || !cfg.Auth.SessionSecretDefault {
		t.Fatalf("unexpected session defaults %+v", cfg.Auth)
	}
	if cfg.Chat.MaxDuration != 60*time.Second {
		t.Fatalf("expected 60s chat ceiling, got %v", cfg.Chat.MaxDuration)
	}
	if cfg.Rate.LoginPerHour != 20 || cfg.Cache.SettingsTTL != 0 {
		t.Fatalf("unexpected rate/cache defaults %+v %+v", cfg.Rate, cfg.Cache)
	}
	if cfg.Crypto.CurrentKeyID != "default" {
		t.Fatalf("expected default key id, got %q", cfg.Crypto.CurrentKeyID)
	}
	if cfg.HTTP.TrustProxyHeaders {
		t.Fatal("proxy headers must not be trusted by default")
	}
}

func TestEnableGlobalAuthIsExactTrue(t *testing.T) {
	t.Setenv("MASTER_KEY_B64", testKey('a'))
	for raw, want := range map[string]bool{"true": true, "1": false, "TRUE": false, "yes": false} {
		t.Setenv("ENABLE_GLOBAL_AUTH", raw)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if cfg.Auth.EnableGlobalAuth != want {
			t.Fatalf("ENABLE_GLOBAL_AUTH=%q: expected %v", raw, want)
		}
	}
}

func TestLoadRedisBackendNeedsAddr(t *testing.T) {
	t.Setenv("MASTER_KEY_B64", testKey('a'))
	t.Setenv("STORE_BACKEND", "redis")
	if _, err := Load(); !errors.Is(err, ErrMissingRedisAddr) {
		t.Fatalf("expected ErrMissingRedisAddr, got %v", err)
	}
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	if _, err := Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	t.Setenv("STORE_BACKEND", "etcd")
	if _, err := Load(); !errors.Is(err, ErrInvalidBackend) {
		t.Fatalf("expected ErrInvalidBackend, got %v", err)
	}
}

func TestLoadMasterKeys(t *testing.T) {
	if _, err := Load(); !errors.Is(err, ErrMissingMasterKey) {
		t.Fatalf("expected ErrMissingMasterKey, got %v", err)
	}

	t.Setenv("MASTER_KEY_V1_B64", testKey('a'))
	t.Setenv("MASTER_KEY_V2_B64", testKey('b'))
	if _, err := Load(); err == nil {
		t.Fatal("expected error when several keys are set without a current id")
	}
	t.Setenv("MASTER_KEY_CURRENT_ID", "V2")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Crypto.CurrentKeyID != "V2" || len(cfg.Crypto.Keys) != 2 {
		t.Fatalf("unexpected crypto config %+v", cfg.Crypto)
	}

	t.Setenv("MASTER_KEY_V3_B64", base64.StdEncoding.EncodeToString([]byte("short")))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for short key")
	}
}
