package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yshk-mrt/parental-control-agent-sub000/internal/approval"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending approval requests",
	Long:  "Shows all active approval requests with their reason, creation time,\nand remaining seconds before timeout.",
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	store, err := approval.NewStore(approval.DefaultDir())
	if err != nil {
		return fmt.Errorf("failed to open approval store: %w", err)
	}

	active, err := store.Active()
	if err != nil {
		return fmt.Errorf("failed to list approvals: %w", err)
	}

	if len(active) == 0 {
		fmt.Println("No pending approvals.")
		return nil
	}

	now := time.Now().UTC()
	fmt.Printf("%-38s %-40s %-10s %s\n", "REQUEST", "REASON", "REMAINING", "CREATED")
	for _, r := range active {
		remaining := time.Duration(r.TimeoutSeconds)*time.Second - now.Sub(r.CreatedAt)
		if remaining < 0 {
			remaining = 0
		}
		fmt.Printf("%-38s %-40s %-10s %s\n",
			r.ID,
			truncate(r.Reason, 40),
			remaining.Truncate(time.Second),
			r.CreatedAt.Local().Format("15:04:05"),
		)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
