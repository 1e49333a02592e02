package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/store"
)

var (
	tasksStatus string
	tasksLimit  int
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect committed enrichment tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		tasks, err := st.ListTasks(ctx, store.TaskFilter{
			Status: model.TaskStatus(tasksStatus),
			Limit:  tasksLimit,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tasks)
	},
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task with its audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		task, err := st.GetTask(ctx, args[0])
		if err != nil {
			return err
		}
		trail, err := st.ListAudit(ctx, args[0])
		if err != nil {
			return err
		}

		out := struct {
			Task  *model.Task        `json:"task"`
			Audit []model.AuditEntry `json:"audit"`
		}{Task: task, Audit: trail}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	tasksListCmd.Flags().StringVar(&tasksStatus, "status", "", "filter by terminal status")
	tasksListCmd.Flags().IntVar(&tasksLimit, "limit", 50, "max tasks to return")

	tasksCmd.AddCommand(tasksListCmd, tasksShowCmd)
	rootCmd.AddCommand(tasksCmd)
}
