package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit <text>",
	Short: "Create a task (task.create) and print the assigned id",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func init() {
	flags := submitCmd.Flags()
	flags.Int("priority", 50, "Task priority, 0-100")
	flags.String("metadata", "", "Optional JSON object merged into the task's metadata")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	f, err := connectFabric(cmd)
	if err != nil {
		return err
	}
	defer f.Close()

	priority, _ := cmd.Flags().GetInt("priority")
	metadataRaw, _ := cmd.Flags().GetString("metadata")
	params := map[string]interface{}{
		"text":     args[0],
		"priority": priority,
	}
	if metadataRaw != "" {
		var metadata map[string]interface{}
		if err := json.Unmarshal([]byte(metadataRaw), &metadata); err != nil {
			return fmt.Errorf("--metadata must be a JSON object: %w", err)
		}
		params["metadata"] = metadata
	}

	out, err := f.registry.Execute(cmd.Context(), "task.create", params, callerMetadata("submit"))
	if err != nil {
		return err
	}
	return printJSON(out)
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
