package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yshk-mrt/parental-control-agent-sub000/internal/workflow"
)

var denyParent string

func init() {
	rootCmd.AddCommand(denyCmd)
	denyCmd.Flags().StringVar(&denyParent, "parent", "cli", "Responding parent identifier")
}

var denyCmd = &cobra.Command{
	Use:   "deny <request-id>",
	Short: "Deny a pending approval request",
	Long:  "Drops a denial into the response inbox. The screen stays locked after\na denial; the child can ask again with a new request.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeny,
}

func runDeny(cmd *cobra.Command, args []string) error {
	if err := workflow.WriteResponse(workflow.DefaultInboxDir(), workflow.Response{
		RequestID: args[0],
		Approved:  false,
		ParentID:  denyParent,
	}); err != nil {
		return fmt.Errorf("queue denial: %w", err)
	}
	fmt.Printf("Denied %q (queued for the running agent)\n", args[0])
	return nil
}
