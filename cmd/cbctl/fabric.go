package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/claudebench/claudebench/internal/config"
	"github.com/claudebench/claudebench/internal/eventbus"
	"github.com/claudebench/claudebench/internal/handler"
	"github.com/claudebench/claudebench/internal/instance"
	"github.com/claudebench/claudebench/internal/registry"
	"github.com/claudebench/claudebench/internal/session"
	"github.com/claudebench/claudebench/internal/store"
	"github.com/claudebench/claudebench/internal/store/script"
	"github.com/claudebench/claudebench/internal/task"
)

// fabric is the minimal in-process wiring cbctl needs to drive
// Registry.Execute the same way a transport in front of claudebenchd would.
// It mounts no scheduler and contends for no leadership — a CLI invocation
// is a caller, not a fabric member.
type fabric struct {
	adapter  store.Adapter
	registry *registry.Registry
}

func connectFabric(cmd *cobra.Command) (*fabric, error) {
	level, _ := cmd.Flags().GetString("log-level")
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).With().Str("component", "cbctl").Logger()

	cfg, err := loadClientConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	adapter, err := store.NewRedisAdapter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	ctx := context.Background()
	if err := script.LoadAll(ctx, adapter); err != nil {
		adapter.Close()
		return nil, fmt.Errorf("script: load: %w", err)
	}

	bus := eventbus.New(adapter, 0)
	taskSvc := task.NewService(adapter, bus)
	instanceMgr := instance.NewManager(adapter, taskSvc, cfg.HeartbeatTimeout(), cfg.LeaderLease(), cfg.DefaultCapacity)
	sessionProc := session.NewProcessor(adapter, bus, int64(cfg.SnapshotEveryN))

	runtime := handler.NewRuntime(adapter, "cbctl", bus.Publish, cfg.RateLimitWindow(), nil)
	reg := registry.New(runtime)
	registry.RegisterTaskHandlers(reg, taskSvc)
	registry.RegisterSystemHandlers(reg, instanceMgr)
	registry.RegisterSessionHandlers(reg, sessionProc)

	return &fabric{adapter: adapter, registry: reg}, nil
}

func (f *fabric) Close() { f.adapter.Close() }

func loadClientConfig(cmd *cobra.Command) (config.Config, error) {
	v := viper.New()
	fl := cmd.Flags()
	if fl.Changed("redis-addr") {
		val, _ := fl.GetString("redis-addr")
		v.Set("redis_addr", val)
	}
	if fl.Changed("redis-password") {
		val, _ := fl.GetString("redis-password")
		v.Set("redis_password", val)
	}
	if fl.Changed("redis-db") {
		val, _ := fl.GetInt("redis-db")
		v.Set("redis_db", val)
	}
	return config.Load(v)
}

// callerMetadata identifies cbctl invocations to the handler runtime and
// any persistence hook, the way a transport would stamp its own caller id.
func callerMetadata(subcommand string) handler.CallerMetadata {
	return handler.CallerMetadata{"callerId": "cbctl", "subcommand": subcommand}
}
