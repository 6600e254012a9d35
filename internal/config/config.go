// Package config centralizes the recognized options from spec.md §6.
// Values are bound through viper so they can come from flags, environment
// variables (CLAUDEBENCH_ prefix), or a config file, the way
// steveyegge/beads binds its cobra flags through viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every recognized option from spec.md §6.
type Config struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	HeartbeatTimeoutMs  int64 `mapstructure:"heartbeat_timeout_ms"`
	LeaderLeaseMs       int64 `mapstructure:"leader_lease_ms"`
	RateLimitWindowMs   int64 `mapstructure:"rate_limit_window_ms"`
	DefaultCapacity     int   `mapstructure:"default_capacity"`
	SnapshotEveryN      int   `mapstructure:"snapshot_every_n"`
	ProcessedEventTTLS  int64 `mapstructure:"processed_event_ttl_s"`
	StreamTrimMaxLen    int64 `mapstructure:"stream_trim_max_len"`
	AutoAssignDelayMs   int64 `mapstructure:"auto_assign_delay_ms"`

	// PersistDSN is the optional relational mirror target for the
	// handler runtime's persistence hook (§4.6.8). Empty disables it.
	PersistDSN string `mapstructure:"persist_dsn"`

	InstanceID string `mapstructure:"instance_id"`
}

// Defaults mirror spec.md §6 exactly.
func Defaults() Config {
	return Config{
		RedisAddr:          "localhost:6379",
		RedisDB:            0,
		HeartbeatTimeoutMs: 30000,
		LeaderLeaseMs:      30000,
		RateLimitWindowMs:  60000,
		DefaultCapacity:    10,
		SnapshotEveryN:     100,
		ProcessedEventTTLS: 86400,
		StreamTrimMaxLen:   1000,
		AutoAssignDelayMs:  5000,
	}
}

// Load builds a Config from viper, seeded with Defaults() and overridable
// by CLAUDEBENCH_* environment variables or a bound flag set.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	cfg := Defaults()
	v.SetEnvPrefix("claudebench")
	v.AutomaticEnv()

	v.SetDefault("redis_addr", cfg.RedisAddr)
	v.SetDefault("redis_db", cfg.RedisDB)
	v.SetDefault("heartbeat_timeout_ms", cfg.HeartbeatTimeoutMs)
	v.SetDefault("leader_lease_ms", cfg.LeaderLeaseMs)
	v.SetDefault("rate_limit_window_ms", cfg.RateLimitWindowMs)
	v.SetDefault("default_capacity", cfg.DefaultCapacity)
	v.SetDefault("snapshot_every_n", cfg.SnapshotEveryN)
	v.SetDefault("processed_event_ttl_s", cfg.ProcessedEventTTLS)
	v.SetDefault("stream_trim_max_len", cfg.StreamTrimMaxLen)
	v.SetDefault("auto_assign_delay_ms", cfg.AutoAssignDelayMs)

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func (c Config) HeartbeatTimeout() time.Duration { return time.Duration(c.HeartbeatTimeoutMs) * time.Millisecond }
func (c Config) LeaderLease() time.Duration      { return time.Duration(c.LeaderLeaseMs) * time.Millisecond }
func (c Config) RateLimitWindow() time.Duration  { return time.Duration(c.RateLimitWindowMs) * time.Millisecond }
func (c Config) ProcessedEventTTL() time.Duration {
	return time.Duration(c.ProcessedEventTTLS) * time.Second
}
func (c Config) AutoAssignDelay() time.Duration { return time.Duration(c.AutoAssignDelayMs) * time.Millisecond }
