// Command cbctl is a worker-shaped CLI, adapted from the teacher's
// fluxforge/agent (which spoke HTTP to a control plane). Since HTTP
// transports are out of scope here, cbctl drives Registry.Execute
// in-process against its own fabric wiring — the same register / heartbeat
// / claim / complete shape fluxforge/agent's heartbeat.go and executor.go
// implement over HTTP, replaced with a direct in-process call.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cbctl: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cbctl",
	Short: "ClaudeBench operator and worker CLI",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("redis-addr", "", "Redis address (default localhost:6379)")
	flags.String("redis-password", "", "Redis password")
	flags.Int("redis-db", -1, "Redis logical database")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(execCmd)
}
