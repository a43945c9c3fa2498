package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLimiterAllow(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	rl := New(rdb, "", 2)
	now := time.Date(2026, 2, 13, 10, 0, 0, 0, time.UTC)

	allowed, used, _, err := rl.Allow(context.Background(), "admin", "10.0.0.1", now)
	if err != nil {
		t.Fatalf("allow#1: %v", err)
	}
	if !allowed || used != 1 {
		t.Fatalf("expected first call allowed with used=1, got allowed=%v used=%d", allowed, used)
	}

	allowed, used, _, err = rl.Allow(context.Background(), "admin", "10.0.0.1", now)
	if err != nil {
		t.Fatalf("allow#2: %v", err)
	}
	if !allowed || used != 2 {
		t.Fatalf("expected second call allowed with used=2, got allowed=%v used=%d", allowed, used)
	}

	allowed, used, resetAt, err := rl.Allow(context.Background(), "admin", "10.0.0.1", now)
	if err != nil {
		t.Fatalf("allow#3: %v", err)
	}
	if allowed || used != 3 {
		t.Fatalf("expected third call denied with used=3, got allowed=%v used=%d", allowed, used)
	}
	if !resetAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected reset time %v", resetAt)
	}

	allowed, _, _, err = rl.Allow(context.Background(), "site", "10.0.0.1", now)
	if err != nil || !allowed {
		t.Fatalf("expected site kind counted separately, allowed=%v err=%v", allowed, err)
	}
	if !mr.Exists("aichat:login:admin:10.0.0.1:2026021310") {
		t.Fatal("expected windowed key in redis")
	}
}

func TestLimiterDisabled(t *testing.T) {
	for _, rl := range []*Limiter{nil, New(nil, "", 5), New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "", 0)} {
		allowed, _, _, err := rl.Allow(context.Background(), "admin", "ip", time.Now())
		if err != nil || !allowed {
			t.Fatalf("expected disabled limiter to allow, allowed=%v err=%v", allowed, err)
		}
	}
}
