package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yshk-mrt/parental-control-agent-sub000/internal/approval"
	"github.com/yshk-mrt/parental-control-agent-sub000/internal/audit"
	"github.com/yshk-mrt/parental-control-agent-sub000/internal/judgment"
	"github.com/yshk-mrt/parental-control-agent-sub000/internal/lockscreen"
	"github.com/yshk-mrt/parental-control-agent-sub000/internal/model"
	"github.com/yshk-mrt/parental-control-agent-sub000/internal/notify"
	"github.com/yshk-mrt/parental-control-agent-sub000/internal/workflow"
	"github.com/yshk-mrt/parental-control-agent-sub000/internal/ws"
)

var (
	monitorListen       string
	monitorJudgmentCfg  string
	monitorNotifyCfg    string
	monitorApprovalsDir string
	monitorAuditPath    string
	monitorLockDir      string
	monitorStdin        bool
)

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVar(&monitorListen, "listen", "127.0.0.1:8787", "Parent dashboard websocket address")
	monitorCmd.Flags().StringVar(&monitorJudgmentCfg, "judgment-config", "", "Judgment config path (default ~/.pcagent/judgment.yaml)")
	monitorCmd.Flags().StringVar(&monitorNotifyCfg, "notify-config", "", "Notification config path (default ~/.pcagent/notify.yaml)")
	monitorCmd.Flags().StringVar(&monitorApprovalsDir, "approvals", "", "Approval store directory (default ~/.pcagent/approvals)")
	monitorCmd.Flags().StringVar(&monitorAuditPath, "audit", "", "Audit log path (default ~/.pcagent/audit.jsonl)")
	monitorCmd.Flags().StringVar(&monitorLockDir, "lock-dir", "", "Lock display control directory (default ~/.pcagent/lock)")
	monitorCmd.Flags().BoolVar(&monitorStdin, "stdin", false, "Judge JSON analysis results from stdin, one per line")
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the agent: judge content, manage approvals, serve the dashboard",
	Long:  "Starts the long-running agent: the parent dashboard websocket endpoint,\nthe response inbox watcher, and (with --stdin) a judgment loop over\nanalysis results. Blocked content creates a locked approval request.",
	RunE:  runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	jpath := monitorJudgmentCfg
	if jpath == "" {
		jpath = judgment.DefaultConfigPath()
	}
	jcfg, configHash, err := judgment.LoadConfigWithHash(jpath)
	if err != nil {
		return fmt.Errorf("load judgment config: %w", err)
	}
	engine, err := judgment.New(jcfg)
	if err != nil {
		return fmt.Errorf("build judgment engine: %w", err)
	}

	storeDir := monitorApprovalsDir
	if storeDir == "" {
		storeDir = approval.DefaultDir()
	}
	store, err := approval.NewStore(storeDir)
	if err != nil {
		return fmt.Errorf("open approval store: %w", err)
	}

	auditFile := monitorAuditPath
	if auditFile == "" {
		auditFile, err = audit.DefaultPath()
		if err != nil {
			return err
		}
	}
	auditLog, err := audit.Open(auditFile)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	lockDir := monitorLockDir
	if lockDir == "" {
		lockDir = lockscreen.DefaultDir()
	}
	display, err := lockscreen.NewSignalDisplay(lockDir, log)
	if err != nil {
		return fmt.Errorf("open lock display: %w", err)
	}

	hub := ws.NewHub(log)

	ncfg, err := notify.LoadConfig(monitorNotifyCfg)
	if err != nil {
		return fmt.Errorf("load notify config: %w", err)
	}
	notifier := notify.NewAgent(ncfg, hub, log)

	mgr := workflow.New(store, display, hub, notifier, auditLog, log)
	defer mgr.Close()
	hub.SetCommandHandler(ws.NewCommandHandler(mgr, log))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	inbox, err := workflow.NewInbox(workflow.DefaultInboxDir(), mgr, log)
	if err != nil {
		return fmt.Errorf("open response inbox: %w", err)
	}
	go inbox.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	srv := &http.Server{Addr: monitorListen, Handler: mux}
	go func() {
		log.Info("dashboard endpoint listening", zap.String("addr", monitorListen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("dashboard server failed", zap.Error(err))
			cancel()
		}
	}()

	if monitorStdin {
		go judgeLoop(ctx, cancel, engine, mgr, hub, auditLog, configHash, log)
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// judgeLoop reads one JSON analysis result per stdin line, judges it, and
// opens a locked approval request for every block verdict.
func judgeLoop(ctx context.Context, cancel context.CancelFunc, engine *judgment.Engine, mgr *workflow.Manager, hub *ws.Hub, auditLog *audit.Log, configHash string, log *zap.Logger) {
	defer cancel() // stdin EOF stops the agent in --stdin mode

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var result model.AnalysisResult
		if err := json.Unmarshal([]byte(line), &result); err != nil {
			log.Warn("malformed analysis result", zap.Error(err))
			result = model.UnknownResult(line)
		}

		verdict := engine.Judge(result)
		if err := auditLog.Record(audit.Entry{
			Event:      audit.EventJudgment,
			Action:     string(verdict.Action),
			Category:   string(result.Category),
			RuleIDs:    strings.Join(verdict.AppliedRuleIDs, ","),
			Reason:     verdict.Reasoning,
			ConfigHash: configHash,
		}); err != nil {
			log.Warn("audit record failed", zap.Error(err))
		}

		hub.Broadcast("STATUS_UPDATE", map[string]any{
			"action":     string(verdict.Action),
			"category":   string(result.Category),
			"rules":      verdict.AppliedRuleIDs,
			"emergency":  verdict.EmergencyFlag,
			"confidence": verdict.Confidence,
		})

		if verdict.Action != model.Block {
			continue
		}

		id, err := mgr.CreateAndLock(ctx, workflow.CreateParams{
			Reason:          verdict.Reasoning,
			Content:         result.InputText,
			ApplicationName: result.Application,
			BlockedURL:      result.URL,
			Keywords:        result.SafetyConcerns,
			Confidence:      verdict.Confidence,
		})
		if err != nil {
			if errors.Is(err, workflow.ErrLockActive) {
				log.Info("blocked content while a request is pending",
					zap.String("category", string(result.Category)))
				continue
			}
			log.Error("create approval request", zap.Error(err))
			continue
		}
		log.Info("blocked content locked behind approval",
			zap.String("request_id", id),
			zap.String("category", string(result.Category)))
	}

	if err := scanner.Err(); err != nil {
		log.Error("stdin read failed", zap.Error(err))
	}
}
