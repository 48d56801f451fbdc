package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yshk-mrt/parental-control-agent-sub000/internal/approval"
)

var historyLimit int

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of resolved requests to show")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show resolved approval requests, newest first",
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := approval.NewStore(approval.DefaultDir())
	if err != nil {
		return fmt.Errorf("failed to open approval store: %w", err)
	}

	resolved, err := store.History(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	if len(resolved) == 0 {
		fmt.Println("No resolved approvals.")
		return nil
	}

	fmt.Printf("%-38s %-10s %-40s %s\n", "REQUEST", "STATUS", "REASON", "RESOLVED")
	for _, r := range resolved {
		resolvedAt := "-"
		if r.RespondedAt != nil {
			resolvedAt = r.RespondedAt.Local().Format("Jan 02 15:04:05")
		}
		fmt.Printf("%-38s %-10s %-40s %s\n",
			r.ID,
			r.Status,
			truncate(r.Reason, 40),
			resolvedAt,
		)
	}
	return nil
}
