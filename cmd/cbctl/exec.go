package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec <event> [json-params]",
	Short: "Call any registered operation through Registry.Execute",
	Long: `exec drives an arbitrary operation (task.claim, system.health, ...)
through the same dispatch path every transport and the scheduler use. With
no event argument, it lists every registered operation instead.`,
	Args: cobra.RangeArgs(0, 2),
	RunE: runExec,
}

func runExec(cmd *cobra.Command, args []string) error {
	f, err := connectFabric(cmd)
	if err != nil {
		return err
	}
	defer f.Close()

	if len(args) == 0 {
		for _, entry := range f.registry.Inventory() {
			fmt.Printf("%-28s rateLimit=%-6d %s\n", entry.Event, entry.RateLimit, entry.Description)
		}
		return nil
	}

	params := map[string]interface{}{}
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
			return fmt.Errorf("params must be a JSON object: %w", err)
		}
	}

	out, err := f.registry.Execute(cmd.Context(), args[0], params, callerMetadata("exec"))
	if err != nil {
		return err
	}
	return printJSON(out)
}
