// Command claudebenchd is the fabric process: it wires the store adapter,
// atomic scripts, event bus, task/instance services, and handler runtime
// into a registry, then runs the scheduler until signalled. No transport is
// mounted (spec.md §1's Non-goals exclude JSON-RPC/WebSocket/MCP/dashboard
// surfaces) — this binary is the attachment point one would bind in front
// of, grounded on the teacher's control_plane/main.go wiring order with the
// HTTP mux it ends on removed.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "claudebenchd: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "claudebenchd",
	Short: "ClaudeBench fabric process",
	Long: `claudebenchd wires the Redis-backed store, atomic scripts, event
bus, task/instance services, and handler runtime into a registry, then runs
the leader election loop, gossip detector, state processor, and scheduler
until terminated. It mounts no transport; cbctl or an embedding process
talks to it by driving the same Registry.Execute path in-process.`,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("redis-addr", "", "Redis address (default localhost:6379)")
	flags.String("redis-password", "", "Redis password")
	flags.Int("redis-db", -1, "Redis logical database")
	flags.String("instance-id", "", "Stable id for this process (default: hostname-<uuid>)")
	flags.String("persist-dsn", "", "Optional Postgres DSN for the completed-task persistence hook")
	flags.Int64("heartbeat-timeout-ms", 0, "Worker heartbeat timeout in ms")
	flags.Int64("leader-lease-ms", 0, "Leader lease duration in ms")
	flags.Int64("rate-limit-window-ms", 0, "Per-event rate limit window in ms")
	flags.Int("default-capacity", 0, "Default worker task capacity")
	flags.Int("snapshot-every-n", 0, "Session snapshot cadence, in folded events")
	flags.Int64("processed-event-ttl-s", 0, "Exactly-once dedup set TTL in seconds (loaded into the config; no component reads it)")
	flags.Int64("stream-trim-max-len", 0, "Approximate max length retained per stream (loaded into the config; no component reads it: event streams trim at 1000, session streams at 10000)")
	flags.Int64("auto-assign-delay-ms", 0, "Delay before a pending task becomes auto-assignable (loaded into the config; no component reads it: auto-assign-delayed considers every pending task)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
}
