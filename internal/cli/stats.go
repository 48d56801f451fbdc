package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/yshk-mrt/parental-control-agent-sub000/internal/audit"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats [audit-log]",
	Short: "Summarize judgments and approval outcomes from the audit log",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	judgments := map[string]int{}
	resolutions := map[string]int{}
	var created, emergencies, total int

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry audit.Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		total++
		switch entry.Event {
		case audit.EventJudgment:
			judgments[entry.Action]++
		case audit.EventApprovalCreated:
			created++
		case audit.EventApprovalResolved:
			resolutions[entry.Action]++
		case audit.EventEmergencyUnlock:
			emergencies++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan audit log: %w", err)
	}

	fmt.Printf("Audit entries: %d\n\n", total)

	fmt.Println("Judgments by action:")
	printCounts(judgments)

	fmt.Printf("\nApproval requests created: %d\n", created)
	fmt.Println("Resolutions:")
	printCounts(resolutions)

	fmt.Printf("\nEmergency unlocks: %d\n", emergencies)
	return nil
}

func printCounts(counts map[string]int) {
	if len(counts) == 0 {
		fmt.Println("  (none)")
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-10s %d\n", k, counts[k])
	}
}
