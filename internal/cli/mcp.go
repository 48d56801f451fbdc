package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	pcmcp "github.com/yshk-mrt/parental-control-agent-sub000/internal/mcp"
)

var (
	mcpJudgmentCfg  string
	mcpNotifyCfg    string
	mcpApprovalsDir string
	mcpAuditPath    string
	mcpHeadless     bool
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpJudgmentCfg, "judgment-config", "", "Judgment config path (default ~/.pcagent/judgment.yaml)")
	mcpCmd.Flags().StringVar(&mcpNotifyCfg, "notify-config", "", "Notification config path (default ~/.pcagent/notify.yaml)")
	mcpCmd.Flags().StringVar(&mcpApprovalsDir, "approvals", "", "Approval store directory (default ~/.pcagent/approvals)")
	mcpCmd.Flags().StringVar(&mcpAuditPath, "audit", "", "Audit log path")
	mcpCmd.Flags().BoolVar(&mcpHeadless, "headless", false, "Run without a lock display")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs pcagent as an MCP (Model Context Protocol) server over stdio.\nExposes tools: judge, request_approval, respond, pending, unlock.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	srv, err := pcmcp.New(pcmcp.Config{
		JudgmentConfigPath: mcpJudgmentCfg,
		NotifyConfigPath:   mcpNotifyCfg,
		ApprovalsDir:       mcpApprovalsDir,
		AuditLogPath:       mcpAuditPath,
		Headless:           mcpHeadless,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	fmt.Fprintln(os.Stderr, "pcagent MCP server running on stdio")
	return srv.Run(ctx)
}
