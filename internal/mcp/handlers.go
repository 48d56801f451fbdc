package mcp

import (
	"context"
	"errors"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/yshk-mrt/parental-control-agent-sub000/internal/audit"
	"github.com/yshk-mrt/parental-control-agent-sub000/internal/model"
	"github.com/yshk-mrt/parental-control-agent-sub000/internal/workflow"
)

// --- Input/Output types ---

// JudgeInput defines parameters for the pcagent_judge tool.
type JudgeInput struct {
	Category       string   `json:"category" jsonschema:"content category from analysis"`
	Confidence     float64  `json:"confidence" jsonschema:"analysis confidence in [0,1]"`
	SafetyConcerns []string `json:"safety_concerns,omitempty" jsonschema:"detected safety concerns"`
	InputText      string   `json:"input_text,omitempty" jsonschema:"the analyzed text"`
	Application    string   `json:"application,omitempty" jsonschema:"source application"`
	URL            string   `json:"url,omitempty" jsonschema:"source URL"`
}

// JudgeOutput contains the judgment verdict.
type JudgeOutput struct {
	Action         string   `json:"action"`
	Confidence     float64  `json:"confidence"`
	Reasoning      string   `json:"reasoning"`
	AppliedRuleIDs []string `json:"applied_rule_ids"`
	EmergencyFlag  bool     `json:"emergency_flag"`
}

// RequestApprovalInput defines parameters for pcagent_request_approval.
type RequestApprovalInput struct {
	Reason          string   `json:"reason" jsonschema:"why the content was blocked"`
	Content         string   `json:"content,omitempty" jsonschema:"the blocked content"`
	ApplicationName string   `json:"application,omitempty" jsonschema:"source application"`
	BlockedURL      string   `json:"blocked_url,omitempty" jsonschema:"blocked URL if any"`
	Keywords        []string `json:"keywords,omitempty" jsonschema:"matched keywords"`
	Confidence      float64  `json:"confidence,omitempty" jsonschema:"judgment confidence"`
	ChildID         string   `json:"child_id,omitempty" jsonschema:"child identifier"`
	TimeoutSeconds  int      `json:"timeout_seconds,omitempty" jsonschema:"seconds before the request times out, default 300"`
}

// RequestApprovalOutput confirms the created request.
type RequestApprovalOutput struct {
	RequestID      string `json:"request_id,omitempty"`
	Status         string `json:"status"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	Error          string `json:"error,omitempty"`
}

// RespondInput defines parameters for pcagent_respond.
type RespondInput struct {
	RequestID string `json:"request_id" jsonschema:"the approval request id"`
	Approved  bool   `json:"approved" jsonschema:"true to approve, false to deny"`
	ParentID  string `json:"parent_id,omitempty" jsonschema:"responding parent identifier"`
}

// RespondOutput reports whether the decision was applied.
type RespondOutput struct {
	RequestID string `json:"request_id"`
	Applied   bool   `json:"applied"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PendingInput is empty, no parameters needed.
type PendingInput struct{}

// PendingOutput lists all pending approval requests.
type PendingOutput struct {
	Requests []PendingItem `json:"requests"`
}

// PendingItem describes a single pending request.
type PendingItem struct {
	RequestID       string  `json:"request_id"`
	Reason          string  `json:"reason"`
	ApplicationName string  `json:"application,omitempty"`
	BlockedURL      string  `json:"blocked_url,omitempty"`
	Confidence      float64 `json:"confidence,omitempty"`
	CreatedAt       string  `json:"created_at"`
	TimeoutSeconds  int     `json:"timeout_seconds"`
}

// UnlockInput defines parameters for pcagent_unlock.
type UnlockInput struct {
	RequestID string `json:"request_id,omitempty" jsonschema:"request to override, defaults to the request holding the lock"`
}

// UnlockOutput reports the override result.
type UnlockOutput struct {
	RequestID string `json:"request_id,omitempty"`
	Applied   bool   `json:"applied"`
	Error     string `json:"error,omitempty"`
}

// --- Handlers ---

func (s *Server) handleJudge(ctx context.Context, req *mcpsdk.CallToolRequest, input JudgeInput) (*mcpsdk.CallToolResult, JudgeOutput, error) {
	result := s.engine.Judge(model.AnalysisResult{
		Category:       model.Category(input.Category),
		Confidence:     input.Confidence,
		SafetyConcerns: input.SafetyConcerns,
		InputText:      input.InputText,
		Application:    input.Application,
		URL:            input.URL,
	})

	s.recordJudgment(input, result)

	return nil, JudgeOutput{
		Action:         string(result.Action),
		Confidence:     result.Confidence,
		Reasoning:      result.Reasoning,
		AppliedRuleIDs: result.AppliedRuleIDs,
		EmergencyFlag:  result.EmergencyFlag,
	}, nil
}

func (s *Server) handleRequestApproval(ctx context.Context, req *mcpsdk.CallToolRequest, input RequestApprovalInput) (*mcpsdk.CallToolResult, RequestApprovalOutput, error) {
	id, err := s.mgr.CreateAndLock(ctx, workflow.CreateParams{
		Reason:          input.Reason,
		Content:         input.Content,
		ApplicationName: input.ApplicationName,
		BlockedURL:      input.BlockedURL,
		Keywords:        input.Keywords,
		Confidence:      input.Confidence,
		ChildID:         input.ChildID,
		Timeout:         time.Duration(input.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		if errors.Is(err, workflow.ErrLockActive) {
			out := RequestApprovalOutput{Status: "rejected", Error: err.Error()}
			return &mcpsdk.CallToolResult{IsError: true}, out, nil
		}
		return nil, RequestApprovalOutput{}, err
	}

	created, err := s.store.GetActive(id)
	if err != nil {
		return nil, RequestApprovalOutput{}, err
	}
	return nil, RequestApprovalOutput{
		RequestID:      id,
		Status:         string(created.Status),
		TimeoutSeconds: created.TimeoutSeconds,
	}, nil
}

func (s *Server) handleRespond(ctx context.Context, req *mcpsdk.CallToolRequest, input RespondInput) (*mcpsdk.CallToolResult, RespondOutput, error) {
	if !s.mgr.ProcessResponse(input.RequestID, input.Approved, input.ParentID) {
		out := RespondOutput{
			RequestID: input.RequestID,
			Applied:   false,
			Error:     "request not pending",
		}
		if r, err := s.store.Get(input.RequestID); err == nil {
			out.Status = string(r.Status)
		}
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}

	r, err := s.store.Get(input.RequestID)
	if err != nil {
		return nil, RespondOutput{}, err
	}
	return nil, RespondOutput{
		RequestID: input.RequestID,
		Applied:   true,
		Status:    string(r.Status),
	}, nil
}

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, input PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	active, err := s.store.Active()
	if err != nil {
		return nil, PendingOutput{}, err
	}

	out := PendingOutput{Requests: []PendingItem{}}
	for _, r := range active {
		out.Requests = append(out.Requests, PendingItem{
			RequestID:       r.ID,
			Reason:          r.Reason,
			ApplicationName: r.ApplicationName,
			BlockedURL:      r.BlockedURL,
			Confidence:      r.Confidence,
			CreatedAt:       r.CreatedAt.Format(time.RFC3339),
			TimeoutSeconds:  r.TimeoutSeconds,
		})
	}
	return nil, out, nil
}

func (s *Server) handleUnlock(ctx context.Context, req *mcpsdk.CallToolRequest, input UnlockInput) (*mcpsdk.CallToolResult, UnlockOutput, error) {
	id := input.RequestID
	if id == "" {
		id = s.mgr.CurrentLock()
	}
	if id == "" {
		out := UnlockOutput{Applied: false, Error: "no request holds the lock"}
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}

	if !s.mgr.EmergencyUnlock(id) {
		out := UnlockOutput{RequestID: id, Applied: false, Error: "request not pending"}
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, UnlockOutput{RequestID: id, Applied: true}, nil
}

func (s *Server) recordJudgment(input JudgeInput, result model.JudgmentResult) {
	if s.auditLog == nil {
		return
	}
	if err := s.auditLog.Record(audit.Entry{
		Event:      audit.EventJudgment,
		Action:     string(result.Action),
		Category:   input.Category,
		RuleIDs:    strings.Join(result.AppliedRuleIDs, ","),
		Reason:     result.Reasoning,
		ConfigHash: s.configHash,
	}); err != nil {
		s.log.Warn("audit record failed")
	}
}
