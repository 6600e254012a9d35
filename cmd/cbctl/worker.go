package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker loop: register, heartbeat, claim, complete",
	Long: `worker registers an instance, then alternates a heartbeat tick with a
claim attempt on every poll interval, completing each claimed task
immediately with a trivial result. It exercises the same pull-based
dispatch contract a real worker process would use over whatever transport
is bound in front of the fabric, grounded on fluxforge/agent's
register/heartbeat/poll loop but calling Registry.Execute in-process
instead of speaking HTTP to a control plane.`,
	RunE: runWorker,
}

func init() {
	flags := workerCmd.Flags()
	flags.String("id", "", "Worker instance id (default: hostname-<uuid>)")
	flags.Duration("heartbeat-interval", 5*time.Second, "Heartbeat cadence")
	flags.Duration("poll-interval", 2*time.Second, "Claim poll cadence")
	flags.Int("capacity", 1, "Tasks this worker can hold concurrently (accepted but not read; registration sends only the role \"worker\")")
}

func runWorker(cmd *cobra.Command, args []string) error {
	f, err := connectFabric(cmd)
	if err != nil {
		return err
	}
	defer f.Close()

	id, _ := cmd.Flags().GetString("id")
	if id == "" {
		id = generateWorkerID()
	}
	heartbeatInterval, _ := cmd.Flags().GetDuration("heartbeat-interval")
	pollInterval, _ := cmd.Flags().GetDuration("poll-interval")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := log.With().Str("worker", id).Logger()

	out, err := f.registry.Execute(ctx, "system.register", map[string]interface{}{
		"id":    id,
		"roles": []interface{}{"worker"},
	}, callerMetadata("worker"))
	if err != nil {
		return err
	}
	logger.Info().Interface("result", out).Msg("worker: registered")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker: shutting down")
			return nil
		case <-heartbeat.C:
			if _, err := f.registry.Execute(ctx, "system.heartbeat", map[string]interface{}{"id": id}, callerMetadata("worker")); err != nil {
				logger.Warn().Err(err).Msg("worker: heartbeat failed")
			}
		case <-poll.C:
			claimAndComplete(ctx, f, id, logger)
		}
	}
}

func claimAndComplete(ctx context.Context, f *fabric, id string, logger zerolog.Logger) {
	claim, err := f.registry.Execute(ctx, "task.claim", map[string]interface{}{"workerId": id}, callerMetadata("worker"))
	if err != nil {
		logger.Warn().Err(err).Msg("worker: claim failed")
		return
	}
	claimed, _ := claim["claimed"].(bool)
	if !claimed {
		return
	}
	taskID, _ := claim["taskId"].(string)
	logger.Info().Str("taskId", taskID).Msg("worker: claimed task")

	if _, err := f.registry.Execute(ctx, "task.complete", map[string]interface{}{
		"id":       taskID,
		"workerId": id,
		"result":   map[string]interface{}{"handledBy": "cbctl worker"},
	}, callerMetadata("worker")); err != nil {
		logger.Warn().Err(err).Str("taskId", taskID).Msg("worker: complete failed")
		return
	}
	logger.Info().Str("taskId", taskID).Msg("worker: completed task")
}

func generateWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "cbctl-worker"
	}
	return host + "-" + uuid.NewString()
}
