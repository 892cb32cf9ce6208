package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the pending-action queue",
	}
	cmd.AddCommand(newQueueListCmd(), newQueueRetryCmd(), newQueueDiscardCmd())
	return cmd
}

func newQueueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued actions in replay order",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(nil)
			if err != nil {
				return err
			}
			defer a.close()

			actions, err := a.queue.List()
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"ID", "Type", "Target", "Server ID", "Status", "Attempts", "Enqueued", "Last Error"})
			for _, action := range actions {
				t.AppendRow(table.Row{
					action.ID,
					action.Type,
					action.TargetLocalID,
					action.TargetServerID,
					action.Status,
					fmt.Sprintf("%d/%d", action.AttemptCount, action.MaxAttempts),
					time.Unix(0, action.EnqueuedAt).Format(time.RFC3339),
					action.LastError,
				})
			}
			t.Render()

			return nil
		},
	}
}

func newQueueRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <action-id>",
		Short: "Reset a conflicted action for the next drain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(nil)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.queue.Retry(args[0]); err != nil {
				return err
			}
			fmt.Printf("action %s reset for retry\n", args[0])
			return nil
		},
	}
}

func newQueueDiscardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <action-id>",
		Short: "Remove an action from the queue without replaying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(nil)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.queue.Discard(args[0]); err != nil {
				return err
			}
			fmt.Printf("action %s discarded\n", args[0])
			return nil
		},
	}
}
