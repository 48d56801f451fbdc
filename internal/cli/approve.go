package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yshk-mrt/parental-control-agent-sub000/internal/workflow"
)

var approveParent string

func init() {
	rootCmd.AddCommand(approveCmd)
	approveCmd.Flags().StringVar(&approveParent, "parent", "cli", "Responding parent identifier")
}

var approveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "Approve a pending approval request",
	Long:  "Drops an approval decision into the response inbox. The running agent\napplies it, unlocks the screen, and archives the request.",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

func runApprove(cmd *cobra.Command, args []string) error {
	if err := workflow.WriteResponse(workflow.DefaultInboxDir(), workflow.Response{
		RequestID: args[0],
		Approved:  true,
		ParentID:  approveParent,
	}); err != nil {
		return fmt.Errorf("queue approval: %w", err)
	}
	fmt.Printf("Approved %q (queued for the running agent)\n", args[0])
	return nil
}
