package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/claudebench/claudebench/internal/config"
	"github.com/claudebench/claudebench/internal/eventbus"
	"github.com/claudebench/claudebench/internal/handler"
	"github.com/claudebench/claudebench/internal/instance"
	"github.com/claudebench/claudebench/internal/instance/gossip"
	"github.com/claudebench/claudebench/internal/observability"
	"github.com/claudebench/claudebench/internal/registry"
	"github.com/claudebench/claudebench/internal/scheduler"
	"github.com/claudebench/claudebench/internal/session"
	"github.com/claudebench/claudebench/internal/store"
	"github.com/claudebench/claudebench/internal/store/script"
	"github.com/claudebench/claudebench/internal/task"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the fabric process",
	RunE:  runFabric,
}

// loadConfig binds only the flags the operator actually set, so
// config.Defaults() and CLAUDEBENCH_* env vars still take effect for
// everything else, mirroring the teacher's env-first posture while
// routing it through the shared internal/config loader.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	v := viper.New()
	f := cmd.Flags()
	bind := func(flag, key string) {
		if f.Changed(flag) {
			val, _ := f.GetString(flag)
			v.Set(key, val)
		}
	}
	bindInt64 := func(flag, key string) {
		if f.Changed(flag) {
			val, _ := f.GetInt64(flag)
			v.Set(key, val)
		}
	}
	bindInt := func(flag, key string) {
		if f.Changed(flag) {
			val, _ := f.GetInt(flag)
			v.Set(key, val)
		}
	}
	bind("redis-addr", "redis_addr")
	bind("redis-password", "redis_password")
	bindInt("redis-db", "redis_db")
	bind("instance-id", "instance_id")
	bind("persist-dsn", "persist_dsn")
	bindInt64("heartbeat-timeout-ms", "heartbeat_timeout_ms")
	bindInt64("leader-lease-ms", "leader_lease_ms")
	bindInt64("rate-limit-window-ms", "rate_limit_window_ms")
	bindInt("default-capacity", "default_capacity")
	bindInt("snapshot-every-n", "snapshot_every_n")
	bindInt64("processed-event-ttl-s", "processed_event_ttl_s")
	bindInt64("stream-trim-max-len", "stream_trim_max_len")
	bindInt64("auto-assign-delay-ms", "auto_assign_delay_ms")
	return config.Load(v)
}

func initLogging(cmd *cobra.Command) {
	level, _ := cmd.Flags().GetString("log-level")
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func runFabric(cmd *cobra.Command, args []string) error {
	initLogging(cmd)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = generateInstanceID()
	}
	logger := log.With().Str("component", "claudebenchd").Str("instanceId", cfg.InstanceID).Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	adapter, err := store.NewRedisAdapter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("store: connect: %w", err)
	}
	defer adapter.Close()

	if err := script.LoadAll(ctx, adapter); err != nil {
		return fmt.Errorf("script: load: %w", err)
	}

	bus := eventbus.New(adapter, 0)
	taskSvc := task.NewService(adapter, bus)
	instanceMgr := instance.NewManager(adapter, taskSvc, cfg.HeartbeatTimeout(), cfg.LeaderLease(), cfg.DefaultCapacity)
	gossipDetector := gossip.NewDetector(adapter)
	sessionProc := session.NewProcessor(adapter, bus, int64(cfg.SnapshotEveryN))

	elector := instance.NewLeaderElector(adapter, cfg.InstanceID, cfg.LeaderLease())
	elector.OnElected(func(ctx context.Context, epoch int64) {
		observability.LeaderStatus.Set(1)
		observability.LeaderEpoch.Set(float64(epoch))
		observability.LeadershipTransitions.WithLabelValues(cfg.InstanceID, "elected").Inc()
		logger.Info().Int64("epoch", epoch).Msg("leader: elected")
	})
	elector.OnLost(func() {
		observability.LeaderStatus.Set(0)
		observability.LeadershipTransitions.WithLabelValues(cfg.InstanceID, "lost").Inc()
		logger.Warn().Msg("leader: lost lease")
	})

	var persistHook handler.PersistHook
	if cfg.PersistDSN != "" {
		hook, err := handler.NewPgxPersistHook(ctx, cfg.PersistDSN)
		if err != nil {
			return fmt.Errorf("handler: persist hook: %w", err)
		}
		persistHook = hook
		logger.Info().Msg("handler: persistence hook enabled")
	}

	runtime := handler.NewRuntime(adapter, cfg.InstanceID, bus.Publish, cfg.RateLimitWindow(), persistHook)
	reg := registry.New(runtime)
	registry.RegisterTaskHandlers(reg, taskSvc)
	registry.RegisterSystemHandlers(reg, instanceMgr)
	registry.RegisterSessionHandlers(reg, sessionProc)

	sched := scheduler.New(elector)
	scheduler.BuildAll(sched, scheduler.Deps{
		Adapter:         adapter,
		Dispatch:        reg,
		Tasks:           taskSvc,
		Gossip:          gossipDetector,
		Elector:         elector,
		DefaultCapacity: cfg.DefaultCapacity,
	})

	go elector.Run(ctx)
	go func() {
		if err := sessionProc.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("session: processor stopped")
		}
	}()

	logger.Info().Strs("operations", inventoryNames(reg)).Msg("claudebenchd: ready")
	sched.Run(ctx)
	logger.Info().Msg("claudebenchd: shut down")
	return nil
}

func inventoryNames(reg *registry.Registry) []string {
	inv := reg.Inventory()
	names := make([]string, len(inv))
	for i, e := range inv {
		names[i] = e.Event
	}
	return names
}

// generateInstanceID replaces the teacher's generateNodeID() placeholder
// (hostname plus the literal string "uuid") with a real uuid.
func generateInstanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "claudebenchd"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString())
}
