package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadNilViperReturnsDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Defaults()
	if cfg.RedisAddr != want.RedisAddr || cfg.DefaultCapacity != want.DefaultCapacity {
		t.Fatalf("cfg = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadHonorsExplicitlySetValues(t *testing.T) {
	v := viper.New()
	v.Set("redis_addr", "redis.internal:6380")
	v.Set("default_capacity", 25)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RedisAddr != "redis.internal:6380" {
		t.Errorf("RedisAddr = %q, want redis.internal:6380", cfg.RedisAddr)
	}
	if cfg.DefaultCapacity != 25 {
		t.Errorf("DefaultCapacity = %d, want 25", cfg.DefaultCapacity)
	}
	// Unset fields should still fall back to Defaults().
	if cfg.HeartbeatTimeoutMs != Defaults().HeartbeatTimeoutMs {
		t.Errorf("HeartbeatTimeoutMs = %d, want default %d", cfg.HeartbeatTimeoutMs, Defaults().HeartbeatTimeoutMs)
	}
}

func TestLoadHonorsEnvironmentVariable(t *testing.T) {
	t.Setenv("CLAUDEBENCH_REDIS_ADDR", "from-env:6379")
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RedisAddr != "from-env:6379" {
		t.Fatalf("RedisAddr = %q, want from-env:6379", cfg.RedisAddr)
	}
}

func TestDurationHelpersConvertMillisAndSeconds(t *testing.T) {
	cfg := Config{
		HeartbeatTimeoutMs: 1500,
		LeaderLeaseMs:      2000,
		RateLimitWindowMs:  60000,
		ProcessedEventTTLS: 86400,
		AutoAssignDelayMs:  5000,
	}
	if cfg.HeartbeatTimeout() != 1500*time.Millisecond {
		t.Errorf("HeartbeatTimeout() = %v, want 1.5s", cfg.HeartbeatTimeout())
	}
	if cfg.LeaderLease() != 2*time.Second {
		t.Errorf("LeaderLease() = %v, want 2s", cfg.LeaderLease())
	}
	if cfg.RateLimitWindow() != time.Minute {
		t.Errorf("RateLimitWindow() = %v, want 1m", cfg.RateLimitWindow())
	}
	if cfg.ProcessedEventTTL() != 24*time.Hour {
		t.Errorf("ProcessedEventTTL() = %v, want 24h", cfg.ProcessedEventTTL())
	}
	if cfg.AutoAssignDelay() != 5*time.Second {
		t.Errorf("AutoAssignDelay() = %v, want 5s", cfg.AutoAssignDelay())
	}
}
