// Package mcp exposes the judgment engine and approval workflow as MCP
// tools over stdio, so an agent runtime can ask for a verdict before it
// surfaces content and park blocked content behind a parent approval.
package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/yshk-mrt/parental-control-agent-sub000/internal/approval"
	"github.com/yshk-mrt/parental-control-agent-sub000/internal/audit"
	"github.com/yshk-mrt/parental-control-agent-sub000/internal/judgment"
	"github.com/yshk-mrt/parental-control-agent-sub000/internal/lockscreen"
	"github.com/yshk-mrt/parental-control-agent-sub000/internal/notify"
	"github.com/yshk-mrt/parental-control-agent-sub000/internal/workflow"
)

// Config holds MCP server configuration.
type Config struct {
	JudgmentConfigPath string
	NotifyConfigPath   string
	ApprovalsDir       string
	AuditLogPath       string
	LockDir            string
	Headless           bool // no lock display, used in tests and CI
}

// Server wraps the MCP SDK server around the judgment and approval tools.
type Server struct {
	mcpServer  *mcpsdk.Server
	engine     *judgment.Engine
	store      *approval.Store
	mgr        *workflow.Manager
	auditLog   *audit.Log
	configHash string
	log        *zap.Logger
}

// New loads the judgment config, opens the approval store, and registers
// all tools.
func New(cfg Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}

	jpath := cfg.JudgmentConfigPath
	if jpath == "" {
		jpath = judgment.DefaultConfigPath()
	}
	jcfg, configHash, err := judgment.LoadConfigWithHash(jpath)
	if err != nil {
		return nil, fmt.Errorf("load judgment config: %w", err)
	}
	engine, err := judgment.New(jcfg)
	if err != nil {
		return nil, fmt.Errorf("build judgment engine: %w", err)
	}

	dir := cfg.ApprovalsDir
	if dir == "" {
		dir = approval.DefaultDir()
	}
	store, err := approval.NewStore(dir)
	if err != nil {
		return nil, fmt.Errorf("open approval store: %w", err)
	}

	var auditLog *audit.Log
	if cfg.AuditLogPath != "" {
		auditLog, err = audit.Open(cfg.AuditLogPath)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
	}

	var display lockscreen.Display
	if cfg.Headless {
		display = lockscreen.NewNoopDisplay(log)
	} else {
		lockDir := cfg.LockDir
		if lockDir == "" {
			lockDir = lockscreen.DefaultDir()
		}
		display, err = lockscreen.NewSignalDisplay(lockDir, log)
		if err != nil {
			return nil, fmt.Errorf("open lock display: %w", err)
		}
	}

	ncfg, err := notify.LoadConfig(cfg.NotifyConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load notify config: %w", err)
	}
	notifier := notify.NewAgent(ncfg, nil, log)

	s := &Server{
		engine:     engine,
		store:      store,
		mgr:        workflow.New(store, display, nil, notifier, auditLog, log),
		auditLog:   auditLog,
		configHash: configHash,
		log:        log,
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "pcagent",
			Version: "0.1.0",
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close stops timeout supervisors and closes the audit log.
func (s *Server) Close() error {
	s.mgr.Close()
	if s.auditLog != nil {
		return s.auditLog.Close()
	}
	return nil
}

// registerTools adds all pcagent tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "pcagent_judge",
		Description: "Judge a content analysis result against the active rule set. Returns the action (allow/monitor/restrict/block) and reasoning.",
	}, s.handleJudge)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "pcagent_request_approval",
		Description: "Create a parent approval request for blocked content and lock the screen until a decision or timeout.",
	}, s.handleRequestApproval)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "pcagent_respond",
		Description: "Apply a parent decision (approve or deny) to a pending approval request.",
	}, s.handleRespond)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "pcagent_pending",
		Description: "List all pending approval requests.",
	}, s.handlePending)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "pcagent_unlock",
		Description: "Emergency unlock: resolve a pending request through the override path and alert the parent.",
	}, s.handleUnlock)
}
