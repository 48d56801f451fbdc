package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yshk-mrt/parental-control-agent-sub000/internal/workflow"
)

func init() {
	rootCmd.AddCommand(cancelCmd)
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <request-id>",
	Short: "Withdraw a pending approval request",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	if err := workflow.WriteResponse(workflow.DefaultInboxDir(), workflow.Response{
		RequestID: args[0],
		Cancel:    true,
	}); err != nil {
		return fmt.Errorf("queue cancellation: %w", err)
	}
	fmt.Printf("Cancelled %q (queued for the running agent)\n", args[0])
	return nil
}
